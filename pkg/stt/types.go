package stt

import (
	"fmt"

	"callqa-server/pkg/errors"
)

// Canonical sentiment labels returned by the sentiment capability.
const (
	SentimentPositive = "Positive"
	SentimentNegative = "Negative"
	SentimentNeutral  = "Neutral"
)

// Segment is a single diarized transcript segment. Segments are immutable
// once returned by a Transcriber; text is raw, not yet cleaned.
type Segment struct {
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	SpeakerID string  `json:"speaker"`
	Text      string  `json:"text"`
}

// TranscriptResult is the output contract of the transcription capability.
// An empty Segments slice is a valid result for silence-only audio.
type TranscriptResult struct {
	Segments []Segment
	Language string
}

// SpeakerHints bounds the expected number of distinct speakers.
type SpeakerHints struct {
	Min int
	Max int
}

// Validate checks the hint range against the contract bounds.
func (h SpeakerHints) Validate() error {
	if h.Min < 1 || h.Min > 10 {
		return errors.Wrap(errors.ErrInvalidInput, fmt.Sprintf("min_speakers must be in [1,10], got %d", h.Min))
	}
	if h.Max < 1 || h.Max > 10 {
		return errors.Wrap(errors.ErrInvalidInput, fmt.Sprintf("max_speakers must be in [1,10], got %d", h.Max))
	}
	if h.Min > h.Max {
		return errors.Wrap(errors.ErrInvalidInput, fmt.Sprintf("min_speakers (%d) must not exceed max_speakers (%d)", h.Min, h.Max))
	}
	return nil
}

// SentimentScore is a single label-plus-confidence sentiment result.
type SentimentScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Clamp bounds the confidence into [0,1].
func (s SentimentScore) Clamp() SentimentScore {
	s.Score = clamp01(s.Score)
	return s
}

// TonalScore is the fixed-label emotion distribution. Both labels are
// always present; values are independently bounded in [0,1].
type TonalScore struct {
	Neutral  float64 `json:"Neutral"`
	Negative float64 `json:"Negative"`
}

// Clamp bounds both values into [0,1].
func (t TonalScore) Clamp() TonalScore {
	t.Neutral = clamp01(t.Neutral)
	t.Negative = clamp01(t.Negative)
	return t
}

// NeutralSentiment is the default score for a role with no segments or a
// segment whose scoring degraded.
func NeutralSentiment() SentimentScore {
	return SentimentScore{Label: SentimentNeutral, Score: 0.0}
}

// NeutralTonal is the default tonal distribution.
func NeutralTonal() TonalScore {
	return TonalScore{Neutral: 0.0, Negative: 0.0}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
