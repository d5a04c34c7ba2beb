package analysis

import (
	"context"
	"io"
	"testing"
	"time"

	"callqa-server/pkg/errors"
	"callqa-server/pkg/stt"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func buildAggregation(t *testing.T, segments []stt.Segment) *Aggregation {
	t.Helper()
	assignment, err := ResolveRoles(segments, nil)
	require.NoError(t, err)
	return Aggregate(segments, assignment, "en")
}

func TestScorerScoresAllSegments(t *testing.T) {
	agg := buildAggregation(t, twoSpeakerSegments())
	scorer := NewScorer(newTestLogger(), &stt.MockSentimentScorer{}, &stt.MockTonalScorer{}, 2, time.Second)

	scores, err := scorer.Score(context.Background(), agg)
	require.NoError(t, err)

	require.Len(t, scores.PerSegment, 2)
	for i, s := range scores.PerSegment {
		assert.Equal(t, i, s.Index)
		assert.False(t, s.Degraded)
	}

	// The customer segment contains "terrible" so the mock scores it
	// Negative with a high tonal Negative value.
	assert.Equal(t, stt.SentimentNegative, scores.Sentiment[RoleCustomer].Label)
	assert.InDelta(t, 0.8, scores.Tonal[RoleCustomer].Negative, 0.001)
	assert.Equal(t, stt.SentimentPositive, scores.Sentiment[RoleAgent].Label)
}

func TestScorerDegradesFailedSegmentOnly(t *testing.T) {
	segments := []stt.Segment{
		{Start: 0.0, End: 1.0, SpeakerID: "A", Text: "Hello, how can I help?"},
		{Start: 1.2, End: 2.0, SpeakerID: "B", Text: "My invoice is wrong"},
		{Start: 2.2, End: 3.0, SpeakerID: "B", Text: "FAILME please"},
		{Start: 3.2, End: 4.0, SpeakerID: "B", Text: "This is terrible"},
		{Start: 4.2, End: 5.0, SpeakerID: "B", Text: "Thank you anyway"},
	}
	agg := buildAggregation(t, segments)

	tonal := &stt.MockTonalScorer{
		ErrFor: []string{"FAILME"},
		Err:    errors.ErrExternalTimeout,
	}
	scorer := NewScorer(newTestLogger(), &stt.MockSentimentScorer{}, tonal, 4, time.Second)

	scores, err := scorer.Score(context.Background(), agg)
	require.NoError(t, err)
	require.Len(t, scores.PerSegment, 5)

	degraded := 0
	for _, s := range scores.PerSegment {
		if s.Degraded {
			degraded++
			assert.Equal(t, stt.NeutralTonal(), s.Tonal)
		}
	}
	assert.Equal(t, 1, degraded)

	// The degraded segment contributes the neutral default; the other
	// customer segments still pull the aggregate above zero.
	assert.Greater(t, scores.Tonal[RoleCustomer].Negative, 0.0)
}

func TestScorerSlowCapabilityDegradesWithinTimeout(t *testing.T) {
	agg := buildAggregation(t, twoSpeakerSegments())

	sentiment := &stt.MockSentimentScorer{Delay: 200 * time.Millisecond}
	scorer := NewScorer(newTestLogger(), sentiment, &stt.MockTonalScorer{}, 2, 30*time.Millisecond)

	scores, err := scorer.Score(context.Background(), agg)
	require.NoError(t, err)

	for _, s := range scores.PerSegment {
		assert.True(t, s.Degraded)
		assert.Equal(t, stt.NeutralSentiment(), s.Sentiment)
		// Tonal scoring is independent and still succeeded
		assert.NotEqual(t, stt.NeutralTonal(), s.Tonal)
	}
}

func TestScorerCanceledContext(t *testing.T) {
	agg := buildAggregation(t, twoSpeakerSegments())
	scorer := NewScorer(newTestLogger(), &stt.MockSentimentScorer{}, &stt.MockTonalScorer{}, 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := scorer.Score(ctx, agg)
	require.Error(t, err)
}

func TestScorerEmptySegments(t *testing.T) {
	segments := []stt.Segment{
		{Start: 0.0, End: 1.0, SpeakerID: "A", Text: "Only the agent spoke"},
	}
	agg := buildAggregation(t, segments)
	scorer := NewScorer(newTestLogger(), &stt.MockSentimentScorer{}, &stt.MockTonalScorer{}, 2, time.Second)

	scores, err := scorer.Score(context.Background(), agg)
	require.NoError(t, err)

	// The silent Customer role still reports neutral defaults
	assert.Equal(t, stt.NeutralSentiment(), scores.Sentiment[RoleCustomer])
	assert.Equal(t, stt.NeutralTonal(), scores.Tonal[RoleCustomer])
	assert.NotEqual(t, stt.NeutralSentiment().Label, "")
}

func TestAggregateSentimentModeAndTieBreak(t *testing.T) {
	mk := func(label string, score float64, role Role) SegmentScores {
		return SegmentScores{Role: role, Sentiment: stt.SentimentScore{Label: label, Score: score}}
	}

	// Clear mode
	scores := []SegmentScores{
		mk(stt.SentimentNegative, 0.9, RoleCustomer),
		mk(stt.SentimentNegative, 0.7, RoleCustomer),
		mk(stt.SentimentPositive, 0.8, RoleCustomer),
	}
	got := aggregateSentiment(scores)
	assert.Equal(t, stt.SentimentNegative, got.Label)
	assert.InDelta(t, 0.8, got.Score, 0.001)

	// Tie: the temporally last label wins
	scores = []SegmentScores{
		mk(stt.SentimentNegative, 0.9, RoleCustomer),
		mk(stt.SentimentPositive, 0.8, RoleCustomer),
	}
	got = aggregateSentiment(scores)
	assert.Equal(t, stt.SentimentPositive, got.Label)

	// Empty input
	assert.Equal(t, stt.NeutralSentiment(), aggregateSentiment(nil))
}

func TestAggregateTonalMeans(t *testing.T) {
	scores := []SegmentScores{
		{Tonal: stt.TonalScore{Neutral: 0.8, Negative: 0.2}},
		{Tonal: stt.TonalScore{Neutral: 0.4, Negative: 0.6}},
	}
	got := aggregateTonal(scores)
	assert.InDelta(t, 0.6, got.Neutral, 0.001)
	assert.InDelta(t, 0.4, got.Negative, 0.001)

	assert.Equal(t, stt.NeutralTonal(), aggregateTonal(nil))
}

func TestScoreBoundsHold(t *testing.T) {
	agg := buildAggregation(t, twoSpeakerSegments())
	scorer := NewScorer(newTestLogger(), &stt.MockSentimentScorer{}, &stt.MockTonalScorer{}, 2, time.Second)

	scores, err := scorer.Score(context.Background(), agg)
	require.NoError(t, err)

	for _, role := range []Role{RoleAgent, RoleCustomer, RoleOverall} {
		s := scores.Sentiment[role]
		assert.GreaterOrEqual(t, s.Score, 0.0)
		assert.LessOrEqual(t, s.Score, 1.0)
		tn := scores.Tonal[role]
		assert.GreaterOrEqual(t, tn.Neutral, 0.0)
		assert.LessOrEqual(t, tn.Neutral, 1.0)
		assert.GreaterOrEqual(t, tn.Negative, 0.0)
		assert.LessOrEqual(t, tn.Negative, 1.0)
	}
}
