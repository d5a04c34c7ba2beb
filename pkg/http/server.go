package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"callqa-server/pkg/config"
	"callqa-server/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// AMQPStatusReporter exposes broker connectivity for the readiness check.
type AMQPStatusReporter interface {
	IsConnected() bool
}

// Server hosts the analysis API plus health and metrics endpoints.
type Server struct {
	config     *config.HTTPConfig
	logger     *logrus.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	startTime  time.Time
	amqpClient AMQPStatusReporter
}

// NewServer creates the HTTP server and registers the standard
// endpoints. The analysis handler is registered separately via
// RegisterAnalyzeHandler so tests can mount it on their own mux.
func NewServer(logger *logrus.Logger, cfg *config.HTTPConfig) *Server {
	server := &Server{
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	server.mux = mux

	mux.HandleFunc("/health", server.HealthHandler)
	mux.HandleFunc("/health/live", server.LivenessHandler)
	mux.HandleFunc("/health/ready", server.ReadinessHandler)

	if cfg.EnableMetrics {
		metrics.RegisterHandler(mux)
		logger.Info("Prometheus metrics endpoint enabled at /metrics")
	} else {
		logger.Info("Metrics endpoint disabled")
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// RegisterAnalyzeHandler mounts the analysis endpoint.
func (s *Server) RegisterAnalyzeHandler(handler *AnalyzeHandler) {
	s.mux.Handle("/analyze", handler)
	s.logger.Info("Analysis endpoint registered at /analyze")
}

// SetAMQPClient sets the broker client consulted by the readiness check.
func (s *Server) SetAMQPClient(client AMQPStatusReporter) {
	s.amqpClient = client
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() {
	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
