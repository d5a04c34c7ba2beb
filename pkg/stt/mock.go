package stt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MockTranscriber implements a canned transcription provider for testing.
type MockTranscriber struct {
	logger *logrus.Logger

	// Result is returned on success; Err takes precedence when set.
	Result *TranscriptResult
	Err    error

	// Delay simulates provider latency before returning.
	Delay time.Duration

	mu    sync.Mutex
	calls int
}

// NewMockTranscriber creates a mock transcription provider.
func NewMockTranscriber(logger *logrus.Logger) *MockTranscriber {
	return &MockTranscriber{
		logger: logger,
		Result: &TranscriptResult{
			Segments: []Segment{
				{Start: 0.0, End: 2.5, SpeakerID: "A", Text: "Hello, thank you for calling, how can I help?"},
				{Start: 2.8, End: 5.0, SpeakerID: "B", Text: "I have a problem with my last invoice."},
			},
			Language: "en",
		},
	}
}

// Name returns the provider name
func (m *MockTranscriber) Name() string {
	return "mock"
}

// Calls reports how many times Transcribe has been invoked.
func (m *MockTranscriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Transcribe returns the canned result after the configured delay.
func (m *MockTranscriber) Transcribe(ctx context.Context, audioPath string, hints SpeakerHints) (*TranscriptResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}

// MockSentimentScorer classifies by keyword lookup; useful for pipeline
// tests that need deterministic labels without a network dependency.
type MockSentimentScorer struct {
	// ErrFor lists substrings whose segments fail with Err.
	ErrFor []string
	Err    error
	Delay  time.Duration
}

// Name returns the provider name
func (m *MockSentimentScorer) Name() string {
	return "mock"
}

// ScoreSentiment returns Negative for texts containing obviously negative
// words, Positive for positive ones, Neutral otherwise.
func (m *MockSentimentScorer) ScoreSentiment(ctx context.Context, text string) (SentimentScore, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return SentimentScore{}, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	for _, s := range m.ErrFor {
		if strings.Contains(text, s) {
			return SentimentScore{}, m.Err
		}
	}

	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "terrible", "awful", "angry", "problem", "worst"):
		return SentimentScore{Label: SentimentNegative, Score: 0.9}, nil
	case containsAny(lower, "great", "thank", "perfect", "wonderful", "resolved"):
		return SentimentScore{Label: SentimentPositive, Score: 0.85}, nil
	default:
		return SentimentScore{Label: SentimentNeutral, Score: 0.7}, nil
	}
}

// MockTonalScorer mirrors MockSentimentScorer for the tonal capability.
type MockTonalScorer struct {
	ErrFor []string
	Err    error
	Delay  time.Duration
}

// Name returns the provider name
func (m *MockTonalScorer) Name() string {
	return "mock"
}

// ScoreTonal returns a high Negative value for negative texts.
func (m *MockTonalScorer) ScoreTonal(ctx context.Context, text string) (TonalScore, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return TonalScore{}, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	for _, s := range m.ErrFor {
		if strings.Contains(text, s) {
			return TonalScore{}, m.Err
		}
	}

	lower := strings.ToLower(text)
	if containsAny(lower, "terrible", "awful", "angry", "problem", "worst") {
		return TonalScore{Neutral: 0.1, Negative: 0.8}, nil
	}
	return TonalScore{Neutral: 0.9, Negative: 0.05}, nil
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
