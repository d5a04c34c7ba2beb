package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry       *prometheus.Registry
	registryOnce   sync.Once
	metricsEnabled = true

	// Analysis pipeline metrics
	AnalysisRequestsTotal *prometheus.CounterVec
	AnalysisDuration      *prometheus.HistogramVec
	AnalysesActive        prometheus.Gauge
	AnalysisErrors        *prometheus.CounterVec

	// Audio normalization metrics
	AudioNormalizeDuration prometheus.Histogram
	AudioResampleTotal     *prometheus.CounterVec

	// External capability metrics
	TranscriptionLatency   *prometheus.HistogramVec
	ScoringRequestsTotal   *prometheus.CounterVec
	ScoringLatency         *prometheus.HistogramVec
	ScoringDegradedTotal   *prometheus.CounterVec
	SegmentsProcessedTotal prometheus.Counter

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionStatus  prometheus.Gauge
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		AnalysisRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_analysis_requests_total",
				Help: "Total number of call analysis requests",
			},
			[]string{"status"},
		)

		AnalysisDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callqa_analysis_duration_seconds",
				Help:    "End-to-end duration of call analyses",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~8.5m
			},
			[]string{"stage"},
		)

		AnalysesActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callqa_analyses_active",
				Help: "Number of analyses currently in flight",
			},
		)

		AnalysisErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_analysis_errors_total",
				Help: "Total number of failed analyses by error class",
			},
			[]string{"class"},
		)

		AudioNormalizeDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "callqa_audio_normalize_duration_seconds",
				Help:    "Duration of audio normalization",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		)

		AudioResampleTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_audio_resample_total",
				Help: "Audio normalizations by whether resampling was required",
			},
			[]string{"resampled"},
		)

		TranscriptionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callqa_transcription_latency_seconds",
				Help:    "Latency of external transcription requests",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"provider"},
		)

		ScoringRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_scoring_requests_total",
				Help: "Total number of per-segment scoring requests",
			},
			[]string{"capability", "status"},
		)

		ScoringLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callqa_scoring_latency_seconds",
				Help:    "Latency of per-segment sentiment/tonal scoring",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"capability"},
		)

		ScoringDegradedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_scoring_degraded_total",
				Help: "Segments degraded to neutral defaults after scoring failure",
			},
			[]string{"capability", "reason"},
		)

		SegmentsProcessedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callqa_segments_processed_total",
				Help: "Total number of transcript segments processed",
			},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqa_amqp_published_messages_total",
				Help: "Total number of QA reports published to AMQP",
			},
			[]string{"queue", "status"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callqa_amqp_connection_status",
				Help: "Status of AMQP connection (1 = connected, 0 = disconnected)",
			},
		)

		registry.MustRegister(
			AnalysisRequestsTotal,
			AnalysisDuration,
			AnalysesActive,
			AnalysisErrors,

			AudioNormalizeDuration,
			AudioResampleTotal,

			TranscriptionLatency,
			ScoringRequestsTotal,
			ScoringLatency,
			ScoringDegradedTotal,
			SegmentsProcessedTotal,

			AMQPPublishedMessages,
			AMQPConnectionStatus,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsEnabled enables or disables metrics collection
func SetMetricsEnabled(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics collection is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics endpoint with the given mux
func RegisterHandler(mux *http.ServeMux) {
	if registry == nil || !metricsEnabled {
		return
	}
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// RecordAnalysis records a completed analysis with its outcome
func RecordAnalysis(status string) {
	if !metricsEnabled || AnalysisRequestsTotal == nil {
		return
	}
	AnalysisRequestsTotal.WithLabelValues(status).Inc()
}

// ObserveStage returns a completion function that records stage duration
func ObserveStage(stage string) func() {
	if !metricsEnabled || AnalysisDuration == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		AnalysisDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// RecordAudioNormalize records a completed audio normalization
func RecordAudioNormalize(resampled bool, duration time.Duration) {
	if !metricsEnabled || AudioNormalizeDuration == nil {
		return
	}
	AudioNormalizeDuration.Observe(duration.Seconds())
	if resampled {
		AudioResampleTotal.WithLabelValues("true").Inc()
	} else {
		AudioResampleTotal.WithLabelValues("false").Inc()
	}
}

// AnalysesActiveInc marks an analysis as in flight
func AnalysesActiveInc() {
	if !metricsEnabled || AnalysesActive == nil {
		return
	}
	AnalysesActive.Inc()
}

// AnalysesActiveDec marks an analysis as finished
func AnalysesActiveDec() {
	if !metricsEnabled || AnalysesActive == nil {
		return
	}
	AnalysesActive.Dec()
}

// RecordAnalysisError records a failed analysis by error class
func RecordAnalysisError(class string) {
	if !metricsEnabled || AnalysisErrors == nil {
		return
	}
	AnalysisErrors.WithLabelValues(class).Inc()
}

// RecordSegmentProcessed counts a segment entering the scoring stage
func RecordSegmentProcessed() {
	if !metricsEnabled || SegmentsProcessedTotal == nil {
		return
	}
	SegmentsProcessedTotal.Inc()
}

// RecordScoringRequest records a per-segment scoring call
func RecordScoringRequest(capability, status string) {
	if !metricsEnabled || ScoringRequestsTotal == nil {
		return
	}
	ScoringRequestsTotal.WithLabelValues(capability, status).Inc()
}

// RecordScoringDegraded records a segment falling back to neutral defaults
func RecordScoringDegraded(capability, reason string) {
	if !metricsEnabled || ScoringDegradedTotal == nil {
		return
	}
	ScoringDegradedTotal.WithLabelValues(capability, reason).Inc()
}

// ObserveScoringLatency returns a completion function for scoring latency
func ObserveScoringLatency(capability string) func() {
	if !metricsEnabled || ScoringLatency == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		ScoringLatency.WithLabelValues(capability).Observe(time.Since(start).Seconds())
	}
}

// RecordAMQPPublish records an AMQP publish attempt
func RecordAMQPPublish(queue, status string) {
	if !metricsEnabled || AMQPPublishedMessages == nil {
		return
	}
	AMQPPublishedMessages.WithLabelValues(queue, status).Inc()
}

// SetAMQPConnectionStatus records AMQP connection state
func SetAMQPConnectionStatus(connected bool) {
	if !metricsEnabled || AMQPConnectionStatus == nil {
		return
	}
	if connected {
		AMQPConnectionStatus.Set(1)
	} else {
		AMQPConnectionStatus.Set(0)
	}
}
