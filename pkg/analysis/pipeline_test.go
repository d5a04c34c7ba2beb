package analysis

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"callqa-server/pkg/audio"
	"callqa-server/pkg/config"
	"callqa-server/pkg/errors"
	"callqa-server/pkg/stt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePCMWAV writes a short mono 16 kHz sine tone for pipeline tests.
func writePCMWAV(t *testing.T, dir string) string {
	t.Helper()

	const sampleRate = 16000
	samples := make([]int16, sampleRate/10)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/sampleRate))
	}

	dataSize := len(samples) * 2
	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], sampleRate*2)
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(s))
	}

	path := filepath.Join(dir, "call.wav")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func pipelineConfig(tempDir string) *config.Config {
	return &config.Config{
		Audio: config.AudioConfig{
			TargetSampleRate: 16000,
			TempDir:          tempDir,
		},
		STT: config.STTConfig{
			ScoringTimeout:     time.Second,
			ScoringConcurrency: 2,
		},
		Pipeline: config.PipelineConfig{
			MaxConcurrentAnalyses: 4,
			DefaultMinSpeakers:    1,
			DefaultMaxSpeakers:    2,
		},
		Evaluation: config.EvaluationConfig{
			ResolutionWeight:   1.0 / 3.0,
			ComplianceWeight:   1.0 / 3.0,
			SatisfactionWeight: 1.0 / 3.0,
			Buckets:            config.DefaultRatingBuckets(),
			RequiredPhrases:    config.DefaultRequiredPhrases(),
			ProhibitedPhrases:  config.DefaultProhibitedPhrases(),
		},
	}
}

func newTestPipeline(t *testing.T, cfg *config.Config, transcriber stt.Transcriber, publisher ReportPublisher) *Pipeline {
	t.Helper()
	logger := newTestLogger()
	normalizer := audio.NewNormalizer(logger, cfg.Audio.TargetSampleRate, cfg.Audio.TempDir)
	caps := stt.Capabilities{
		Transcriber: transcriber,
		Sentiment:   &stt.MockSentimentScorer{},
		Tonal:       &stt.MockTonalScorer{},
	}
	return NewPipeline(logger, cfg, normalizer, caps, publisher)
}

type capturingPublisher struct {
	mu      sync.Mutex
	reports []*AnalysisResponse
	err     error
}

func (p *capturingPublisher) PublishReport(ctx context.Context, report *AnalysisResponse) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.reports = append(p.reports, report)
	return nil
}

func (p *capturingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reports)
}

func TestPipelineAnalyzeEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := pipelineConfig(dir)
	p := newTestPipeline(t, cfg, stt.NewMockTranscriber(newTestLogger()), nil)

	resp, err := p.Analyze(context.Background(), writePCMWAV(t, dir), p.DefaultHints())
	require.NoError(t, err)

	assert.Len(t, resp.Segments, 2)
	assert.Equal(t, 2, resp.NumSpeakers)
	assert.Equal(t, "en", resp.Language)
	// The mock customer reports an invoice problem, scored Negative
	assert.Equal(t, stt.SentimentNegative, resp.Sentiment["Customer"].Label)
	assert.NotEmpty(t, resp.Evaluation.Evaluation)
}

func TestPipelineCleansArtifactOnSuccess(t *testing.T) {
	dir := t.TempDir()
	cfg := pipelineConfig(dir)
	p := newTestPipeline(t, cfg, stt.NewMockTranscriber(newTestLogger()), nil)

	src := writePCMWAV(t, dir)
	_, err := p.Analyze(context.Background(), src, p.DefaultHints())
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	// Only the uploaded source remains; the normalized artifact is gone
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(src), entries[0].Name())
}

func TestPipelineTranscriptionTimeoutRemovesArtifact(t *testing.T) {
	dir := t.TempDir()
	cfg := pipelineConfig(dir)

	transcriber := stt.NewMockTranscriber(newTestLogger())
	transcriber.Err = errors.Wrap(errors.ErrExternalTimeout, "transcription deadline exceeded")
	p := newTestPipeline(t, cfg, transcriber, nil)

	src := writePCMWAV(t, dir)
	_, err := p.Analyze(context.Background(), src, p.DefaultHints())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExternalTimeout))

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(src), entries[0].Name())
}

func TestPipelineRejectsInvalidHints(t *testing.T) {
	dir := t.TempDir()
	cfg := pipelineConfig(dir)
	p := newTestPipeline(t, cfg, stt.NewMockTranscriber(newTestLogger()), nil)

	_, err := p.Analyze(context.Background(), writePCMWAV(t, dir), stt.SpeakerHints{Min: 5, Max: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestPipelineAdmissionControl(t *testing.T) {
	dir := t.TempDir()
	cfg := pipelineConfig(dir)
	cfg.Pipeline.MaxConcurrentAnalyses = 1

	transcriber := stt.NewMockTranscriber(newTestLogger())
	transcriber.Delay = 300 * time.Millisecond
	p := newTestPipeline(t, cfg, transcriber, nil)

	src := writePCMWAV(t, dir)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := p.Analyze(context.Background(), src, p.DefaultHints())
		done <- err
	}()

	<-started
	time.Sleep(100 * time.Millisecond)

	_, err := p.Analyze(context.Background(), src, p.DefaultHints())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTooManyRequests))

	require.NoError(t, <-done)
}

func TestPipelinePublishesReport(t *testing.T) {
	dir := t.TempDir()
	cfg := pipelineConfig(dir)
	pub := &capturingPublisher{}
	p := newTestPipeline(t, cfg, stt.NewMockTranscriber(newTestLogger()), pub)

	_, err := p.Analyze(context.Background(), writePCMWAV(t, dir), p.DefaultHints())
	require.NoError(t, err)
	assert.Equal(t, 1, pub.count())
}

func TestPipelinePublishFailureDoesNotFailAnalysis(t *testing.T) {
	dir := t.TempDir()
	cfg := pipelineConfig(dir)
	pub := &capturingPublisher{err: errors.ErrUnavailable}
	p := newTestPipeline(t, cfg, stt.NewMockTranscriber(newTestLogger()), pub)

	resp, err := p.Analyze(context.Background(), writePCMWAV(t, dir), p.DefaultHints())
	require.NoError(t, err)
	assert.NotNil(t, resp)
}

func TestPipelineUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	cfg := pipelineConfig(dir)
	p := newTestPipeline(t, cfg, stt.NewMockTranscriber(newTestLogger()), nil)

	path := filepath.Join(dir, "notes.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3\x04this is not wav data"), 0o644))

	_, err := p.Analyze(context.Background(), path, p.DefaultHints())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedFormat))
}
