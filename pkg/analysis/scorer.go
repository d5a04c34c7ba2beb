package analysis

import (
	"context"
	"sync"
	"time"

	"callqa-server/pkg/errors"
	"callqa-server/pkg/metrics"
	"callqa-server/pkg/stt"

	"github.com/sirupsen/logrus"
)

// Scorer fans per-segment sentiment/tonal scoring out to the external
// capabilities and aggregates the results per role.
type Scorer struct {
	logger      *logrus.Logger
	sentiment   stt.SentimentScorer
	tonal       stt.TonalScorer
	concurrency int
	timeout     time.Duration
}

// NewScorer creates a segment scorer with a bounded concurrency cap.
func NewScorer(logger *logrus.Logger, sentiment stt.SentimentScorer, tonal stt.TonalScorer, concurrency int, timeout time.Duration) *Scorer {
	if concurrency < 1 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Scorer{
		logger:      logger,
		sentiment:   sentiment,
		tonal:       tonal,
		concurrency: concurrency,
		timeout:     timeout,
	}
}

// Score scores every segment concurrently and aggregates to the three
// role keys. A single segment's failure or timeout degrades that segment
// to neutral defaults without affecting siblings; only ctx cancellation
// of the whole call aborts.
func (s *Scorer) Score(ctx context.Context, agg *Aggregation) (*ScoreSet, error) {
	results := make([]SegmentScores, len(agg.Segments))

	// Results are re-associated with their segment by index, not by
	// completion order: concurrent completions arrive out of order.
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for i := range agg.Segments {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, errors.Wrap(ctx.Err(), "scoring canceled")
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = s.scoreSegment(ctx, idx, agg.Segments[idx])
		}(i)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "scoring canceled")
	}

	set := &ScoreSet{
		Sentiment:  make(map[Role]stt.SentimentScore, 3),
		Tonal:      make(map[Role]stt.TonalScore, 3),
		PerSegment: results,
	}

	for _, role := range []Role{RoleAgent, RoleCustomer, RoleOverall} {
		scores := filterByRole(results, role)
		set.Sentiment[role] = aggregateSentiment(scores)
		set.Tonal[role] = aggregateTonal(scores)
	}

	return set, nil
}

// scoreSegment runs the two capability calls for one segment, degrading
// each to its neutral default on failure. Each call gets its own timeout
// so one slow capability does not starve the other.
func (s *Scorer) scoreSegment(ctx context.Context, idx int, seg AttributedSegment) SegmentScores {
	result := SegmentScores{
		Index:     idx,
		Role:      seg.Role,
		Sentiment: stt.NeutralSentiment(),
		Tonal:     stt.NeutralTonal(),
	}

	metrics.RecordSegmentProcessed()

	sentCtx, cancelSent := context.WithTimeout(ctx, s.timeout)
	stopSentiment := metrics.ObserveScoringLatency("sentiment")
	sentiment, err := s.sentiment.ScoreSentiment(sentCtx, seg.Text)
	stopSentiment()
	cancelSent()
	if err != nil {
		result.Degraded = true
		metrics.RecordScoringDegraded("sentiment", degradeReason(err))
		s.logger.WithError(err).WithFields(logrus.Fields{
			"segment": idx,
			"role":    seg.Role,
		}).Warn("Sentiment scoring degraded to neutral default")
	} else {
		result.Sentiment = sentiment.Clamp()
		metrics.RecordScoringRequest("sentiment", "ok")
	}

	tonalCtx, cancelTonal := context.WithTimeout(ctx, s.timeout)
	stopTonal := metrics.ObserveScoringLatency("tonal")
	tonal, err := s.tonal.ScoreTonal(tonalCtx, seg.Text)
	stopTonal()
	cancelTonal()
	if err != nil {
		result.Degraded = true
		metrics.RecordScoringDegraded("tonal", degradeReason(err))
		s.logger.WithError(err).WithFields(logrus.Fields{
			"segment": idx,
			"role":    seg.Role,
		}).Warn("Tonal scoring degraded to neutral default")
	} else {
		result.Tonal = tonal.Clamp()
		metrics.RecordScoringRequest("tonal", "ok")
	}

	return result
}

func degradeReason(err error) string {
	if errors.Is(err, errors.ErrExternalTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

func filterByRole(results []SegmentScores, role Role) []SegmentScores {
	if role == RoleOverall {
		return results
	}
	var out []SegmentScores
	for _, r := range results {
		if r.Role == role {
			out = append(out, r)
		}
	}
	return out
}

// aggregateSentiment picks the mode of the per-segment labels. Ties
// break toward the label of the temporally last segment: a call that
// ends positively is not dragged down by an early negative moment. The
// reported score is the mean confidence of the segments agreeing with
// the chosen label.
func aggregateSentiment(scores []SegmentScores) stt.SentimentScore {
	if len(scores) == 0 {
		return stt.NeutralSentiment()
	}

	counts := make(map[string]int)
	for _, s := range scores {
		counts[s.Sentiment.Label]++
	}

	best := ""
	bestCount := 0
	// Walk segments last-to-first so the most recent label wins ties
	for i := len(scores) - 1; i >= 0; i-- {
		label := scores[i].Sentiment.Label
		if counts[label] > bestCount {
			best = label
			bestCount = counts[label]
		}
	}

	var sum float64
	var n int
	for _, s := range scores {
		if s.Sentiment.Label == best {
			sum += s.Sentiment.Score
			n++
		}
	}

	return stt.SentimentScore{Label: best, Score: sum / float64(n)}.Clamp()
}

// aggregateTonal averages each fixed label across the segments.
func aggregateTonal(scores []SegmentScores) stt.TonalScore {
	if len(scores) == 0 {
		return stt.NeutralTonal()
	}

	var sum stt.TonalScore
	for _, s := range scores {
		sum.Neutral += s.Tonal.Neutral
		sum.Negative += s.Tonal.Negative
	}

	n := float64(len(scores))
	return stt.TonalScore{
		Neutral:  sum.Neutral / n,
		Negative: sum.Negative / n,
	}.Clamp()
}
