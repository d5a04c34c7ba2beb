package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"callqa-server/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	HTTP       HTTPConfig       `json:"http"`
	Audio      AudioConfig      `json:"audio"`
	STT        STTConfig        `json:"stt"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Evaluation EvaluationConfig `json:"evaluation"`
	Messaging  MessagingConfig  `json:"messaging"`
	Logging    LoggingConfig    `json:"logging"`
}

// HTTPConfig holds the HTTP server configuration
type HTTPConfig struct {
	Port            int           `json:"port" env:"HTTP_PORT" default:"8080"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"60s"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"120s"`
	MaxUploadBytes  int64         `json:"max_upload_bytes" env:"HTTP_MAX_UPLOAD_BYTES" default:"52428800"`
	EnableMetrics   bool          `json:"enable_metrics" env:"HTTP_ENABLE_METRICS" default:"true"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AudioConfig holds the audio normalization configuration
type AudioConfig struct {
	TargetSampleRate int    `json:"target_sample_rate" env:"AUDIO_TARGET_SAMPLE_RATE" default:"16000"`
	TempDir          string `json:"temp_dir" env:"AUDIO_TEMP_DIR"`
}

// STTConfig holds external speech/sentiment/tonal capability configuration
type STTConfig struct {
	TranscriptionURL    string        `json:"transcription_url" env:"TRANSCRIPTION_URL"`
	TranscriptionAPIKey string        `json:"-" env:"TRANSCRIPTION_API_KEY"`
	SentimentURL        string        `json:"sentiment_url" env:"SENTIMENT_URL"`
	SentimentAPIKey     string        `json:"-" env:"SENTIMENT_API_KEY"`
	SentimentModel      string        `json:"sentiment_model" env:"SENTIMENT_MODEL" default:"llama-3.1-8b-instant"`
	TonalURL            string        `json:"tonal_url" env:"TONAL_URL"`
	TonalAPIKey         string        `json:"-" env:"TONAL_API_KEY"`
	RequestTimeout      time.Duration `json:"request_timeout" env:"STT_REQUEST_TIMEOUT" default:"120s"`
	ScoringTimeout      time.Duration `json:"scoring_timeout" env:"SCORING_TIMEOUT" default:"15s"`
	ScoringConcurrency  int           `json:"scoring_concurrency" env:"SCORING_CONCURRENCY" default:"4"`
}

// PipelineConfig holds analysis pipeline configuration
type PipelineConfig struct {
	MaxConcurrentAnalyses int `json:"max_concurrent_analyses" env:"MAX_CONCURRENT_ANALYSES" default:"8"`

	DefaultMinSpeakers int `json:"default_min_speakers" env:"DEFAULT_MIN_SPEAKERS" default:"1"`
	DefaultMaxSpeakers int `json:"default_max_speakers" env:"DEFAULT_MAX_SPEAKERS" default:"2"`

	// RoleOverrides maps diarized speaker IDs to canonical roles,
	// e.g. "SPEAKER_00=Agent,SPEAKER_01=Customer". Kept as ordered pairs
	// so conflicting hints for one speaker are detectable downstream.
	RoleOverrides []RoleOverride `json:"role_overrides" env:"ROLE_OVERRIDES"`
}

// RoleOverride pins one diarized speaker ID to a canonical role
type RoleOverride struct {
	SpeakerID string `json:"speaker_id"`
	Role      string `json:"role"`
}

// EvaluationConfig holds the scoring engine configuration
type EvaluationConfig struct {
	ResolutionWeight   float64 `json:"resolution_weight" env:"EVAL_RESOLUTION_WEIGHT"`
	ComplianceWeight   float64 `json:"compliance_weight" env:"EVAL_COMPLIANCE_WEIGHT"`
	SatisfactionWeight float64 `json:"satisfaction_weight" env:"EVAL_SATISFACTION_WEIGHT"`

	// Buckets are ordered highest threshold first and must cover [1,10]
	Buckets []RatingBucket `json:"buckets"`

	// RequiredPhrases must appear in the agent transcript; each miss
	// subtracts its delta from the compliance baseline of 10
	RequiredPhrases []ComplianceRule `json:"required_phrases"`

	// ProhibitedPhrases must not appear anywhere in the transcript
	ProhibitedPhrases []ComplianceRule `json:"prohibited_phrases"`
}

// RatingBucket maps a minimum final rating to a categorical verdict
type RatingBucket struct {
	MinRating float64 `json:"min_rating"`
	Label     string  `json:"label"`
}

// ComplianceRule describes a single phrase-based compliance check
type ComplianceRule struct {
	ID     string `json:"id"`
	Phrase string `json:"phrase"`
	Delta  int    `json:"delta"`
}

// MessagingConfig holds AMQP report publishing configuration
type MessagingConfig struct {
	AMQPUrl       string `json:"amqp_url" env:"AMQP_URL"`
	AMQPQueueName string `json:"amqp_queue_name" env:"AMQP_QUEUE_NAME"`
}

// Enabled reports whether report publishing is configured
func (m *MessagingConfig) Enabled() bool {
	return m.AMQPUrl != "" && m.AMQPQueueName != ""
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"LOG_FORMAT" default:"json"`
	OutputFile string `json:"output_file" env:"LOG_OUTPUT_FILE"`
}

// Load loads the configuration from environment variables
func Load(logger *logrus.Logger) (*Config, error) {
	wd, _ := os.Getwd()

	// Try loading a .env file from likely locations before reading the
	// environment; absence of a .env file is not an error
	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			absPath, _ := filepath.Abs(envFile)
			if err := godotenv.Load(envFile); err == nil {
				loadedFrom = absPath
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Successfully loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}

	config := &Config{}

	if err := loadHTTPConfig(logger, &config.HTTP); err != nil {
		return nil, errors.Wrap(err, "failed to load HTTP configuration")
	}

	if err := loadAudioConfig(logger, &config.Audio); err != nil {
		return nil, errors.Wrap(err, "failed to load audio configuration")
	}

	if err := loadSTTConfig(logger, &config.STT); err != nil {
		return nil, errors.Wrap(err, "failed to load STT configuration")
	}

	if err := loadPipelineConfig(logger, &config.Pipeline); err != nil {
		return nil, errors.Wrap(err, "failed to load pipeline configuration")
	}

	if err := loadEvaluationConfig(logger, &config.Evaluation); err != nil {
		return nil, errors.Wrap(err, "failed to load evaluation configuration")
	}

	if err := loadMessagingConfig(logger, &config.Messaging); err != nil {
		return nil, errors.Wrap(err, "failed to load messaging configuration")
	}

	if err := loadLoggingConfig(logger, &config.Logging); err != nil {
		return nil, errors.Wrap(err, "failed to load logging configuration")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadHTTPConfig(logger *logrus.Logger, config *HTTPConfig) error {
	config.Port = getEnvInt("HTTP_PORT", 8080)
	config.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 60*time.Second)
	config.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 120*time.Second)
	config.MaxUploadBytes = int64(getEnvInt("HTTP_MAX_UPLOAD_BYTES", 50*1024*1024))
	config.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", true)
	config.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second)

	if config.Port < 1 || config.Port > 65535 {
		logger.Warnf("Invalid HTTP_PORT %d, defaulting to 8080", config.Port)
		config.Port = 8080
	}

	return nil
}

func loadAudioConfig(logger *logrus.Logger, config *AudioConfig) error {
	config.TargetSampleRate = getEnvInt("AUDIO_TARGET_SAMPLE_RATE", 16000)
	config.TempDir = getEnv("AUDIO_TEMP_DIR", os.TempDir())

	if config.TargetSampleRate < 8000 || config.TargetSampleRate > 48000 {
		logger.Warnf("AUDIO_TARGET_SAMPLE_RATE %d out of range [8000,48000], defaulting to 16000", config.TargetSampleRate)
		config.TargetSampleRate = 16000
	}

	return nil
}

func loadSTTConfig(logger *logrus.Logger, config *STTConfig) error {
	config.TranscriptionURL = getEnv("TRANSCRIPTION_URL", "https://api.assemblyai.com/v2")
	config.TranscriptionAPIKey = getEnv("TRANSCRIPTION_API_KEY", "")
	config.SentimentURL = getEnv("SENTIMENT_URL", "https://api.groq.com/openai/v1/chat/completions")
	config.SentimentAPIKey = getEnv("SENTIMENT_API_KEY", "")
	config.SentimentModel = getEnv("SENTIMENT_MODEL", "llama-3.1-8b-instant")
	config.TonalURL = getEnv("TONAL_URL", "")
	config.TonalAPIKey = getEnv("TONAL_API_KEY", "")
	config.RequestTimeout = getEnvDuration("STT_REQUEST_TIMEOUT", 120*time.Second)
	config.ScoringTimeout = getEnvDuration("SCORING_TIMEOUT", 15*time.Second)
	config.ScoringConcurrency = getEnvInt("SCORING_CONCURRENCY", 4)

	if config.ScoringConcurrency < 1 {
		logger.Warn("SCORING_CONCURRENCY must be at least 1, defaulting to 4")
		config.ScoringConcurrency = 4
	}

	return nil
}

func loadPipelineConfig(logger *logrus.Logger, config *PipelineConfig) error {
	config.MaxConcurrentAnalyses = getEnvInt("MAX_CONCURRENT_ANALYSES", 8)
	config.DefaultMinSpeakers = getEnvInt("DEFAULT_MIN_SPEAKERS", 1)
	config.DefaultMaxSpeakers = getEnvInt("DEFAULT_MAX_SPEAKERS", 2)

	if config.MaxConcurrentAnalyses < 1 {
		logger.Warn("MAX_CONCURRENT_ANALYSES must be at least 1, defaulting to 8")
		config.MaxConcurrentAnalyses = 8
	}

	overrides, err := parseRoleOverrides(getEnv("ROLE_OVERRIDES", ""))
	if err != nil {
		return err
	}
	config.RoleOverrides = overrides

	return nil
}

func loadEvaluationConfig(logger *logrus.Logger, config *EvaluationConfig) error {
	config.ResolutionWeight = getEnvFloat("EVAL_RESOLUTION_WEIGHT", 1.0/3.0)
	config.ComplianceWeight = getEnvFloat("EVAL_COMPLIANCE_WEIGHT", 1.0/3.0)
	config.SatisfactionWeight = getEnvFloat("EVAL_SATISFACTION_WEIGHT", 1.0/3.0)

	config.Buckets = DefaultRatingBuckets()
	config.RequiredPhrases = DefaultRequiredPhrases()
	config.ProhibitedPhrases = DefaultProhibitedPhrases()

	return nil
}

func loadMessagingConfig(logger *logrus.Logger, config *MessagingConfig) error {
	config.AMQPUrl = getEnv("AMQP_URL", "")
	config.AMQPQueueName = getEnv("AMQP_QUEUE_NAME", "")

	if (config.AMQPUrl != "" && config.AMQPQueueName == "") || (config.AMQPUrl == "" && config.AMQPQueueName != "") {
		logger.Warn("Incomplete AMQP configuration: both AMQP_URL and AMQP_QUEUE_NAME must be provided")
	}

	return nil
}

func loadLoggingConfig(logger *logrus.Logger, config *LoggingConfig) error {
	config.Level = getEnv("LOG_LEVEL", "info")

	if _, err := logrus.ParseLevel(config.Level); err != nil {
		logger.Warnf("Invalid LOG_LEVEL '%s', defaulting to 'info'", config.Level)
		config.Level = "info"
	}

	config.Format = getEnv("LOG_FORMAT", "json")
	if config.Format != "json" && config.Format != "text" {
		logger.Warn("Invalid LOG_FORMAT, must be 'json' or 'text', defaulting to 'json'")
		config.Format = "json"
	}

	config.OutputFile = getEnv("LOG_OUTPUT_FILE", "")

	return nil
}

// Validate checks cross-field constraints that cannot be repaired with defaults
func (c *Config) Validate() error {
	if c.Pipeline.DefaultMinSpeakers < 1 || c.Pipeline.DefaultMinSpeakers > 10 {
		return errors.New(fmt.Sprintf("DEFAULT_MIN_SPEAKERS must be in [1,10], got %d", c.Pipeline.DefaultMinSpeakers))
	}
	if c.Pipeline.DefaultMaxSpeakers < 1 || c.Pipeline.DefaultMaxSpeakers > 10 {
		return errors.New(fmt.Sprintf("DEFAULT_MAX_SPEAKERS must be in [1,10], got %d", c.Pipeline.DefaultMaxSpeakers))
	}
	if c.Pipeline.DefaultMinSpeakers > c.Pipeline.DefaultMaxSpeakers {
		return errors.New("DEFAULT_MIN_SPEAKERS must not exceed DEFAULT_MAX_SPEAKERS")
	}

	weightSum := c.Evaluation.ResolutionWeight + c.Evaluation.ComplianceWeight + c.Evaluation.SatisfactionWeight
	if weightSum < 0.999 || weightSum > 1.001 {
		return errors.New(fmt.Sprintf("evaluation weights must sum to 1.0, got %.3f", weightSum))
	}
	if c.Evaluation.ResolutionWeight < 0 || c.Evaluation.ComplianceWeight < 0 || c.Evaluation.SatisfactionWeight < 0 {
		return errors.New("evaluation weights must be non-negative")
	}

	if err := validateBuckets(c.Evaluation.Buckets); err != nil {
		return err
	}

	return nil
}

// validateBuckets ensures the verdict buckets are total and non-overlapping
// over the rating range [1,10]
func validateBuckets(buckets []RatingBucket) error {
	if len(buckets) == 0 {
		return errors.New("at least one rating bucket is required")
	}

	prev := 10.0 + 1
	for i, b := range buckets {
		if b.Label == "" {
			return errors.New(fmt.Sprintf("rating bucket %d has an empty label", i))
		}
		if b.MinRating >= prev {
			return errors.New("rating buckets must be ordered by descending min_rating without overlap")
		}
		prev = b.MinRating
	}

	// The last bucket must catch the bottom of the range
	if buckets[len(buckets)-1].MinRating > 1.0 {
		return errors.New("rating buckets must cover the full [1,10] range")
	}

	return nil
}

// DefaultRatingBuckets returns the standard verdict thresholds
func DefaultRatingBuckets() []RatingBucket {
	return []RatingBucket{
		{MinRating: 8.0, Label: "Excellent"},
		{MinRating: 6.0, Label: "Satisfactory"},
		{MinRating: 4.0, Label: "Needs Improvement"},
		{MinRating: 1.0, Label: "Poor"},
	}
}

// DefaultRequiredPhrases returns the disclosure phrases an agent must state
func DefaultRequiredPhrases() []ComplianceRule {
	return []ComplianceRule{
		{ID: "recording-disclosure", Phrase: "this call may be recorded", Delta: 3},
		{ID: "greeting", Phrase: "how can i help", Delta: 1},
	}
}

// DefaultProhibitedPhrases returns phrases that must never appear on a call
func DefaultProhibitedPhrases() []ComplianceRule {
	return []ComplianceRule{
		{ID: "guaranteed-outcome", Phrase: "i guarantee", Delta: 2},
		{ID: "dismissive", Phrase: "not my problem", Delta: 4},
	}
}

// parseRoleOverrides parses "speakerID=Role,speakerID=Role" pairs
func parseRoleOverrides(raw string) ([]RoleOverride, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var overrides []RoleOverride
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, errors.New(fmt.Sprintf("invalid ROLE_OVERRIDES entry: %q", pair))
		}
		overrides = append(overrides, RoleOverride{
			SpeakerID: strings.TrimSpace(parts[0]),
			Role:      strings.TrimSpace(parts[1]),
		})
	}

	return overrides, nil
}

// ApplyLogging configures the logger per the loaded configuration
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	logger.SetLevel(level)

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if c.Logging.OutputFile != "" {
		f, err := os.OpenFile(c.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to open log file: %s", c.Logging.OutputFile))
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatValue
}
