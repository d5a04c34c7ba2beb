package analysis

import (
	"context"
	"time"

	"callqa-server/pkg/audio"
	"callqa-server/pkg/config"
	"callqa-server/pkg/errors"
	"callqa-server/pkg/metrics"
	"callqa-server/pkg/stt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ReportPublisher delivers a completed analysis report to an external
// consumer. Publishing is best effort and must not fail the analysis.
type ReportPublisher interface {
	PublishReport(ctx context.Context, report *AnalysisResponse) error
}

// Pipeline runs the full analysis chain for one uploaded call
// recording. It owns admission control: at most MaxConcurrentAnalyses
// run at once and excess requests are rejected, not queued.
type Pipeline struct {
	logger     *logrus.Logger
	normalizer *audio.Normalizer
	caps       stt.Capabilities
	scorer     *Scorer
	evaluator  *EvaluationEngine
	assembler  *Assembler
	publisher  ReportPublisher

	defaults          config.PipelineConfig
	transcribeTimeout time.Duration
	slots             chan struct{}
}

// NewPipeline wires the pipeline stages together. publisher may be nil
// when report delivery is not configured.
func NewPipeline(logger *logrus.Logger, cfg *config.Config, normalizer *audio.Normalizer, caps stt.Capabilities, publisher ReportPublisher) *Pipeline {
	maxConcurrent := cfg.Pipeline.MaxConcurrentAnalyses
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &Pipeline{
		logger:            logger,
		normalizer:        normalizer,
		caps:              caps,
		scorer:            NewScorer(logger, caps.Sentiment, caps.Tonal, cfg.STT.ScoringConcurrency, cfg.STT.ScoringTimeout),
		evaluator:         NewEvaluationEngine(logger, &cfg.Evaluation),
		assembler:         NewAssembler(logger),
		publisher:         publisher,
		defaults:          cfg.Pipeline,
		transcribeTimeout: cfg.STT.RequestTimeout,
		slots:             make(chan struct{}, maxConcurrent),
	}
}

// Analyze runs normalize, transcribe, resolve, aggregate, score,
// evaluate and assemble for the recording at srcPath. The transient
// normalized artifact is removed on every exit path.
func (p *Pipeline) Analyze(ctx context.Context, srcPath string, hints stt.SpeakerHints) (*AnalysisResponse, error) {
	select {
	case p.slots <- struct{}{}:
		defer func() { <-p.slots }()
	default:
		metrics.RecordAnalysis("rejected")
		return nil, errors.Wrap(errors.ErrTooManyRequests, "analysis capacity exhausted")
	}

	metrics.AnalysesActiveInc()
	defer metrics.AnalysesActiveDec()

	if err := hints.Validate(); err != nil {
		metrics.RecordAnalysis("invalid")
		return nil, err
	}

	callUUID := uuid.New().String()
	log := p.logger.WithField("call_uuid", callUUID)

	response, err := p.run(ctx, log, srcPath, hints)
	if err != nil {
		metrics.RecordAnalysis("error")
		metrics.RecordAnalysisError(errorClass(err))
		return nil, err
	}

	metrics.RecordAnalysis("ok")

	if p.publisher != nil {
		if pubErr := p.publisher.PublishReport(ctx, response); pubErr != nil {
			log.WithError(pubErr).Warn("Report publish failed, analysis result unaffected")
		}
	}

	return response, nil
}

func (p *Pipeline) run(ctx context.Context, log *logrus.Entry, srcPath string, hints stt.SpeakerHints) (*AnalysisResponse, error) {
	stopNormalize := metrics.ObserveStage("normalize")
	normalized, err := p.normalizer.Normalize(ctx, srcPath)
	stopNormalize()
	if err != nil {
		return nil, err
	}
	defer normalized.Cleanup()

	log.WithFields(logrus.Fields{
		"sample_rate": normalized.SampleRate,
		"duration":    normalized.Duration.Seconds(),
	}).Debug("Audio normalized")

	transcribeCtx := ctx
	if p.transcribeTimeout > 0 {
		var cancel context.CancelFunc
		transcribeCtx, cancel = context.WithTimeout(ctx, p.transcribeTimeout)
		defer cancel()
	}

	stopTranscribe := metrics.ObserveStage("transcribe")
	transcript, err := p.caps.Transcriber.Transcribe(transcribeCtx, normalized.Path, hints)
	stopTranscribe()
	if err != nil {
		return nil, err
	}

	assignment, err := ResolveRoles(transcript.Segments, p.roleHints())
	if err != nil {
		return nil, err
	}

	agg := Aggregate(transcript.Segments, assignment, transcript.Language)

	span := "00:00:00.000"
	if n := len(agg.Segments); n > 0 {
		span = FormatTimestamp(agg.Segments[n-1].End)
	}
	log.WithFields(logrus.Fields{
		"segments": len(agg.Segments),
		"speakers": assignment.SpeakerCount,
		"language": agg.Language,
		"span":     span,
	}).Info("Transcript aggregated")

	stopScore := metrics.ObserveStage("score")
	scores, err := p.scorer.Score(ctx, agg)
	stopScore()
	if err != nil {
		return nil, err
	}

	stopEvaluate := metrics.ObserveStage("evaluate")
	eval := p.evaluator.Evaluate(scores, agg)
	stopEvaluate()

	return p.assembler.Assemble(agg, scores, eval)
}

func (p *Pipeline) roleHints() []RoleHint {
	hints := make([]RoleHint, 0, len(p.defaults.RoleOverrides))
	for _, o := range p.defaults.RoleOverrides {
		hints = append(hints, RoleHint{SpeakerID: o.SpeakerID, Role: o.Role})
	}
	return hints
}

// DefaultHints returns the configured speaker count expectations for
// requests that do not specify their own.
func (p *Pipeline) DefaultHints() stt.SpeakerHints {
	return stt.SpeakerHints{
		Min: p.defaults.DefaultMinSpeakers,
		Max: p.defaults.DefaultMaxSpeakers,
	}
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, errors.ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, errors.ErrCorruptAudio):
		return "corrupt_audio"
	case errors.Is(err, errors.ErrAmbiguousSpeakers), errors.Is(err, errors.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, errors.ErrExternalTimeout):
		return "external_timeout"
	case errors.Is(err, errors.ErrExternalUnavailable):
		return "external_unavailable"
	case errors.Is(err, errors.ErrInvariantViolation):
		return "invariant"
	default:
		return "internal"
	}
}
