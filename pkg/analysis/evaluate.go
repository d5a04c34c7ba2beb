package analysis

import (
	"fmt"
	"math"
	"strings"

	"callqa-server/pkg/config"
	"callqa-server/pkg/stt"

	"github.com/sirupsen/logrus"
)

// EvaluationEngine derives the deterministic QA sub-scores and the
// composite rating. Every score is an explicit function of its inputs
// so a reviewer can reproduce the result from the transcript alone.
type EvaluationEngine struct {
	logger *logrus.Logger
	cfg    *config.EvaluationConfig
}

// NewEvaluationEngine creates an evaluator with the given rule set.
func NewEvaluationEngine(logger *logrus.Logger, cfg *config.EvaluationConfig) *EvaluationEngine {
	return &EvaluationEngine{logger: logger, cfg: cfg}
}

// Evaluate computes the three sub-scores, the weighted final rating and
// the categorical verdict.
func (e *EvaluationEngine) Evaluate(scores *ScoreSet, agg *Aggregation) EvaluationMetrics {
	resolution := e.resolutionScore(scores)
	compliance := e.complianceScore(agg)
	satisfaction := e.satisfactionScore(scores)

	final := e.finalRating(resolution, compliance, satisfaction)
	verdict := e.verdict(final)

	metrics := EvaluationMetrics{
		Resolution:   clampInt(resolution, 1, 10),
		Compliance:   clampInt(compliance, 1, 10),
		Satisfaction: clampInt(satisfaction, 1, 10),
		FinalRating:  final,
		Evaluation:   verdict,
	}

	e.logger.WithFields(logrus.Fields{
		"resolution":   metrics.Resolution,
		"compliance":   metrics.Compliance,
		"satisfaction": metrics.Satisfaction,
		"final_rating": metrics.FinalRating,
		"evaluation":   metrics.Evaluation,
	}).Info("Call evaluation computed")

	return metrics
}

// resolutionScore maps the customer's final-segment sentiment through a
// fixed label/confidence table. A call that ends on a positive customer
// note scores high even if earlier segments were rough.
func (e *EvaluationEngine) resolutionScore(scores *ScoreSet) int {
	last, ok := lastCustomerSegment(scores.PerSegment)
	if !ok {
		// No customer speech to judge an outcome from
		return 5
	}

	label := last.Sentiment.Label
	conf := last.Sentiment.Score

	switch label {
	case stt.SentimentPositive:
		switch {
		case conf >= 0.75:
			return 10
		case conf >= 0.5:
			return 9
		default:
			return 8
		}
	case stt.SentimentNegative:
		switch {
		case conf >= 0.75:
			return 2
		case conf >= 0.5:
			return 3
		default:
			return 4
		}
	default:
		switch {
		case conf >= 0.75:
			return 7
		case conf >= 0.5:
			return 6
		default:
			return 5
		}
	}
}

// complianceScore starts from 10 and subtracts each rule's delta for a
// missing required phrase or a present prohibited phrase, floored at 1.
// Required phrases are checked against the agent's speech only; the
// customer cannot satisfy a disclosure obligation on the agent's behalf.
func (e *EvaluationEngine) complianceScore(agg *Aggregation) int {
	score := 10

	agentText := strings.ToLower(agg.PerRoleText[RoleAgent])
	overallText := strings.ToLower(agg.PerRoleText[RoleAgent] + " " + agg.PerRoleText[RoleCustomer])

	for _, rule := range e.cfg.RequiredPhrases {
		if !strings.Contains(agentText, strings.ToLower(rule.Phrase)) {
			score -= rule.Delta
			e.logger.WithFields(logrus.Fields{
				"rule":  rule.ID,
				"delta": rule.Delta,
			}).Debug("Required compliance phrase missing")
		}
	}

	for _, rule := range e.cfg.ProhibitedPhrases {
		if strings.Contains(overallText, strings.ToLower(rule.Phrase)) {
			score -= rule.Delta
			e.logger.WithFields(logrus.Fields{
				"rule":  rule.ID,
				"delta": rule.Delta,
			}).Debug("Prohibited phrase detected")
		}
	}

	if score < 1 {
		score = 1
	}
	return score
}

// satisfactionScore weights the customer's aggregate Negative emotion
// down from a baseline of 10.
func (e *EvaluationEngine) satisfactionScore(scores *ScoreSet) int {
	tonal := scores.Tonal[RoleCustomer]
	score := 10 - int(math.Round(9*tonal.Negative))
	return clampInt(score, 1, 10)
}

// finalRating is the weighted average of the three sub-scores, rounded
// to one decimal place.
func (e *EvaluationEngine) finalRating(resolution, compliance, satisfaction int) float64 {
	rating := e.cfg.ResolutionWeight*float64(resolution) +
		e.cfg.ComplianceWeight*float64(compliance) +
		e.cfg.SatisfactionWeight*float64(satisfaction)

	rating = math.Round(rating*10) / 10
	if rating < 1 {
		rating = 1
	}
	if rating > 10 {
		rating = 10
	}
	return rating
}

// verdict finds the first bucket whose threshold the rating meets.
// Config validation guarantees a descending, total bucket set, but the
// engine does not require callers to have validated.
func (e *EvaluationEngine) verdict(rating float64) string {
	for _, b := range e.cfg.Buckets {
		if rating >= b.MinRating {
			return b.Label
		}
	}
	return "Poor"
}

// lastCustomerSegment returns the temporally last customer segment's
// scores. Segment indices follow transcript order.
func lastCustomerSegment(perSegment []SegmentScores) (SegmentScores, bool) {
	for i := len(perSegment) - 1; i >= 0; i-- {
		if perSegment[i].Role == RoleCustomer {
			return perSegment[i], true
		}
	}
	return SegmentScores{}, false
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Describe renders the metrics as a short reviewer-facing summary line.
func (m EvaluationMetrics) Describe() string {
	return fmt.Sprintf("%s (%.1f): resolution %d, compliance %d, satisfaction %d",
		m.Evaluation, m.FinalRating, m.Resolution, m.Compliance, m.Satisfaction)
}
