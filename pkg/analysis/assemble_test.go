package analysis

import (
	"encoding/json"
	"testing"

	"callqa-server/pkg/errors"
	"callqa-server/pkg/stt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvaluation() EvaluationMetrics {
	return EvaluationMetrics{
		Resolution:   8,
		Compliance:   10,
		Satisfaction: 9,
		FinalRating:  9.0,
		Evaluation:   "Excellent",
	}
}

func validScoreSet() *ScoreSet {
	return scoreSetWith(nil, stt.TonalScore{Neutral: 0.8, Negative: 0.1})
}

func TestAssembleValidResponse(t *testing.T) {
	agg := buildAggregation(t, twoSpeakerSegments())
	a := NewAssembler(newTestLogger())

	resp, err := a.Assemble(agg, validScoreSet(), validEvaluation())
	require.NoError(t, err)

	assert.Equal(t, agg.OverallText, resp.Transcription)
	require.Len(t, resp.Segments, 2)
	assert.Equal(t, "Agent", resp.Segments[0].Speaker)
	assert.Equal(t, "Customer", resp.Segments[1].Speaker)
	assert.Equal(t, 2, resp.NumSpeakers)
	assert.Equal(t, "en", resp.Language)
	assert.Contains(t, resp.Sentiment, "Agent")
	assert.Contains(t, resp.Sentiment, "Customer")
	assert.Contains(t, resp.Sentiment, "Overall")
	assert.Contains(t, resp.Tonal, "Overall")
}

func TestAssembleResponseJSONShape(t *testing.T) {
	agg := buildAggregation(t, twoSpeakerSegments())
	a := NewAssembler(newTestLogger())

	resp, err := a.Assemble(agg, validScoreSet(), validEvaluation())
	require.NoError(t, err)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))

	for _, key := range []string{"transcription", "segments", "sentiment", "tonal", "evaluation", "language", "num_speakers"} {
		assert.Contains(t, decoded, key)
	}

	var eval map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(decoded["evaluation"], &eval))
	for _, key := range []string{"Resolution", "Compliance", "Satisfaction", "Final_rating", "Evaluation"} {
		assert.Contains(t, eval, key)
	}
}

func TestAssembleRejectsUnorderedSegments(t *testing.T) {
	agg := buildAggregation(t, twoSpeakerSegments())
	// Corrupt the ordering after aggregation
	agg.Segments[0], agg.Segments[1] = agg.Segments[1], agg.Segments[0]

	a := NewAssembler(newTestLogger())
	_, err := a.Assemble(agg, validScoreSet(), validEvaluation())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvariantViolation))
}

func TestAssembleRejectsInvertedTimes(t *testing.T) {
	agg := buildAggregation(t, twoSpeakerSegments())
	agg.Segments[0].Start, agg.Segments[0].End = agg.Segments[0].End, agg.Segments[0].Start

	a := NewAssembler(newTestLogger())
	_, err := a.Assemble(agg, validScoreSet(), validEvaluation())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvariantViolation))
}

func TestAssembleRejectsOutOfBoundsScores(t *testing.T) {
	agg := buildAggregation(t, twoSpeakerSegments())
	scores := validScoreSet()
	scores.Tonal[RoleCustomer] = stt.TonalScore{Neutral: 0.5, Negative: 1.5}

	a := NewAssembler(newTestLogger())
	_, err := a.Assemble(agg, scores, validEvaluation())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvariantViolation))
}

func TestAssembleRejectsBadEvaluation(t *testing.T) {
	agg := buildAggregation(t, twoSpeakerSegments())
	a := NewAssembler(newTestLogger())

	eval := validEvaluation()
	eval.Resolution = 0
	_, err := a.Assemble(agg, validScoreSet(), eval)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvariantViolation))

	eval = validEvaluation()
	eval.FinalRating = 10.5
	_, err = a.Assemble(agg, validScoreSet(), eval)
	require.Error(t, err)

	eval = validEvaluation()
	eval.Evaluation = ""
	_, err = a.Assemble(agg, validScoreSet(), eval)
	require.Error(t, err)
}

func TestAssembleRejectsMissingRole(t *testing.T) {
	agg := buildAggregation(t, twoSpeakerSegments())
	scores := validScoreSet()
	delete(scores.Sentiment, RoleOverall)

	a := NewAssembler(newTestLogger())
	_, err := a.Assemble(agg, scores, validEvaluation())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvariantViolation))
}
