package analysis

import (
	"callqa-server/pkg/errors"
	"callqa-server/pkg/stt"

	"github.com/sirupsen/logrus"
)

// Assembler builds the final response and re-checks every declared
// bound before construction. A violation here is an upstream defect,
// not bad input, so it surfaces as an internal fault.
type Assembler struct {
	logger *logrus.Logger
}

// NewAssembler creates a response assembler.
func NewAssembler(logger *logrus.Logger) *Assembler {
	return &Assembler{logger: logger}
}

// Assemble validates the aggregated pipeline outputs and constructs the
// immutable response.
func (a *Assembler) Assemble(agg *Aggregation, scores *ScoreSet, eval EvaluationMetrics) (*AnalysisResponse, error) {
	if err := a.checkSegments(agg.Segments); err != nil {
		return nil, err
	}
	if err := a.checkScores(scores); err != nil {
		return nil, err
	}
	if err := a.checkEvaluation(eval); err != nil {
		return nil, err
	}

	segments := make([]ResponseSegment, 0, len(agg.Segments))
	for _, seg := range agg.Segments {
		segments = append(segments, ResponseSegment{
			Start:   seg.Start,
			End:     seg.End,
			Speaker: string(seg.Role),
			Text:    seg.Text,
		})
	}

	return &AnalysisResponse{
		Transcription: agg.OverallText,
		Segments:      segments,
		Sentiment: map[string]stt.SentimentScore{
			string(RoleAgent):    scores.Sentiment[RoleAgent],
			string(RoleCustomer): scores.Sentiment[RoleCustomer],
			string(RoleOverall):  scores.Sentiment[RoleOverall],
		},
		Tonal: map[string]stt.TonalScore{
			string(RoleAgent):    scores.Tonal[RoleAgent],
			string(RoleCustomer): scores.Tonal[RoleCustomer],
			string(RoleOverall):  scores.Tonal[RoleOverall],
		},
		Evaluation:  eval,
		Language:    agg.Language,
		NumSpeakers: agg.Assignment.SpeakerCount,
	}, nil
}

func (a *Assembler) checkSegments(segments []AttributedSegment) error {
	prev := -1.0
	for i, seg := range segments {
		if seg.Start >= seg.End {
			return a.violation("segment start not before end", logrus.Fields{
				"segment": i, "start": seg.Start, "end": seg.End,
			})
		}
		if seg.Start < prev {
			return a.violation("segments out of order", logrus.Fields{
				"segment": i, "start": seg.Start, "previous_start": prev,
			})
		}
		if seg.Text == "" {
			return a.violation("empty segment text survived aggregation", logrus.Fields{
				"segment": i,
			})
		}
		prev = seg.Start
	}
	return nil
}

func (a *Assembler) checkScores(scores *ScoreSet) error {
	for _, role := range []Role{RoleAgent, RoleCustomer, RoleOverall} {
		s, ok := scores.Sentiment[role]
		if !ok {
			return a.violation("missing sentiment role", logrus.Fields{"role": role})
		}
		if s.Score < 0 || s.Score > 1 {
			return a.violation("sentiment score out of bounds", logrus.Fields{
				"role": role, "score": s.Score,
			})
		}
		t, ok := scores.Tonal[role]
		if !ok {
			return a.violation("missing tonal role", logrus.Fields{"role": role})
		}
		if t.Neutral < 0 || t.Neutral > 1 || t.Negative < 0 || t.Negative > 1 {
			return a.violation("tonal score out of bounds", logrus.Fields{
				"role": role, "neutral": t.Neutral, "negative": t.Negative,
			})
		}
	}
	return nil
}

func (a *Assembler) checkEvaluation(eval EvaluationMetrics) error {
	if eval.Resolution < 1 || eval.Resolution > 10 ||
		eval.Compliance < 1 || eval.Compliance > 10 ||
		eval.Satisfaction < 1 || eval.Satisfaction > 10 {
		return a.violation("evaluation sub-score out of bounds", logrus.Fields{
			"resolution": eval.Resolution, "compliance": eval.Compliance, "satisfaction": eval.Satisfaction,
		})
	}
	if eval.FinalRating < 1 || eval.FinalRating > 10 {
		return a.violation("final rating out of bounds", logrus.Fields{
			"final_rating": eval.FinalRating,
		})
	}
	if eval.Evaluation == "" {
		return a.violation("empty evaluation verdict", nil)
	}
	return nil
}

func (a *Assembler) violation(msg string, fields logrus.Fields) error {
	a.logger.WithFields(fields).Error("Response invariant violated: " + msg)
	err := errors.Wrap(errors.ErrInvariantViolation, msg)
	for k, v := range fields {
		err = err.WithField(k, v)
	}
	return err
}
