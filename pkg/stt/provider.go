package stt

import (
	"context"
)

// Transcriber invokes the external transcription+diarization capability.
type Transcriber interface {
	// Name returns the provider name
	Name() string

	// Transcribe submits normalized audio and blocks until the full
	// transcript is available or ctx expires
	Transcribe(ctx context.Context, audioPath string, hints SpeakerHints) (*TranscriptResult, error)
}

// SentimentScorer invokes the external sentiment capability for one text.
type SentimentScorer interface {
	Name() string
	ScoreSentiment(ctx context.Context, text string) (SentimentScore, error)
}

// TonalScorer invokes the external tonal-emotion capability for one text.
type TonalScorer interface {
	Name() string
	ScoreTonal(ctx context.Context, text string) (TonalScore, error)
}

// Capabilities bundles the external model adapters consumed by the
// analysis pipeline.
type Capabilities struct {
	Transcriber Transcriber
	Sentiment   SentimentScorer
	Tonal       TonalScorer
}
