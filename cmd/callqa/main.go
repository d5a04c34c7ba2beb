package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"callqa-server/pkg/analysis"
	"callqa-server/pkg/audio"
	"callqa-server/pkg/config"
	http_server "callqa-server/pkg/http"
	"callqa-server/pkg/messaging"
	"callqa-server/pkg/metrics"
	"callqa-server/pkg/stt"
)

var logger = logrus.New()

func main() {
	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if err := cfg.ApplyLogging(logger); err != nil {
		logger.WithError(err).Fatal("Failed to configure logging")
	}

	if cfg.HTTP.EnableMetrics {
		metrics.Init(logger)
	}

	caps := stt.Capabilities{
		Transcriber: stt.NewAssemblyAIProvider(logger, cfg.STT.TranscriptionURL, cfg.STT.TranscriptionAPIKey),
		Sentiment:   stt.NewGroqSentimentProvider(logger, cfg.STT.SentimentURL, cfg.STT.SentimentAPIKey, cfg.STT.SentimentModel),
		Tonal:       stt.NewHuggingFaceTonalProvider(logger, cfg.STT.TonalURL, cfg.STT.TonalAPIKey),
	}

	var amqpClient *messaging.AMQPClient
	var publisher analysis.ReportPublisher
	if cfg.Messaging.Enabled() {
		amqpClient = messaging.NewAMQPClient(logger, messaging.AMQPConfig{
			URL:       cfg.Messaging.AMQPUrl,
			QueueName: cfg.Messaging.AMQPQueueName,
		})
		if err := amqpClient.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP connection failed, report publishing disabled until reconnect")
		}
		publisher = amqpClient
	} else {
		logger.Info("AMQP not configured, report publishing disabled")
	}

	normalizer := audio.NewNormalizer(logger, cfg.Audio.TargetSampleRate, cfg.Audio.TempDir)
	pipeline := analysis.NewPipeline(logger, cfg, normalizer, caps, publisher)

	server := http_server.NewServer(logger, &cfg.HTTP)
	if amqpClient != nil {
		server.SetAMQPClient(amqpClient)
	}
	server.RegisterAnalyzeHandler(http_server.NewAnalyzeHandler(logger, pipeline, cfg.Audio.TempDir, cfg.HTTP.MaxUploadBytes))
	server.Start()

	logger.WithFields(logrus.Fields{
		"port":          cfg.HTTP.Port,
		"transcription": caps.Transcriber.Name(),
		"sentiment":     caps.Sentiment.Name(),
		"tonal":         caps.Tonal.Name(),
	}).Info("Call QA server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}

	if amqpClient != nil {
		amqpClient.Disconnect()
	}

	logger.Info("Call QA server stopped")
}
