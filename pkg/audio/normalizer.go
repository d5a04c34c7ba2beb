package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "callqa-server/pkg/errors"
	"callqa-server/pkg/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	resampling "github.com/tphakala/go-audio-resampling"
)

var errNotRIFF = errors.New("missing RIFF/WAVE header")

// NormalizedAudio is the transient artifact produced by normalization.
// Cleanup must be called once the pipeline completes or fails.
type NormalizedAudio struct {
	Path       string
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Cleanup removes the transient artifact. Safe to call more than once.
func (n *NormalizedAudio) Cleanup() {
	if n == nil || n.Path == "" {
		return
	}
	if err := os.Remove(n.Path); err != nil && !os.IsNotExist(err) {
		// Best effort; the temp dir is swept by the OS eventually
		return
	}
	n.Path = ""
}

// Normalizer converts arbitrary uploaded audio into the canonical format
// required by the downstream models: PCM16 WAV, mono, at the target rate.
type Normalizer struct {
	logger     *logrus.Logger
	targetRate int
	tempDir    string
}

// NewNormalizer creates an audio normalizer.
func NewNormalizer(logger *logrus.Logger, targetRate int, tempDir string) *Normalizer {
	if targetRate <= 0 {
		targetRate = 16000
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Normalizer{
		logger:     logger,
		targetRate: targetRate,
		tempDir:    tempDir,
	}
}

// Normalize decodes srcPath, downmixes to mono, resamples to the target
// rate when needed, and writes a canonical WAV artifact.
func (n *Normalizer) Normalize(ctx context.Context, srcPath string) (*NormalizedAudio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	reader, err := openWAV(srcPath)
	if err != nil {
		if errors.Is(err, errNotRIFF) {
			return nil, apperrors.Wrap(apperrors.ErrUnsupportedFormat, "unrecognized audio container").
				WithField("path", filepath.Base(srcPath))
		}
		if os.IsNotExist(err) {
			return nil, apperrors.Wrap(err, "audio file missing")
		}
		return nil, apperrors.Wrap(apperrors.ErrCorruptAudio, err.Error())
	}
	defer reader.Close()

	samples, err := reader.readAll()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCorruptAudio, err.Error())
	}

	mono := downmix(samples, reader.channels)

	resampled := reader.sampleRate != n.targetRate
	if resampled {
		mono, err = n.resample(mono, reader.sampleRate)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCorruptAudio, err.Error())
		}
	}
	outPath := filepath.Join(n.tempDir, fmt.Sprintf("normalized_%s.wav", uuid.New().String()))
	if err := writeWAV(outPath, n.targetRate, 1, mono); err != nil {
		return nil, apperrors.Wrap(err, "failed to write normalized artifact")
	}

	duration := time.Duration(float64(len(mono)) / float64(n.targetRate) * float64(time.Second))
	metrics.RecordAudioNormalize(resampled, time.Since(start))

	n.logger.WithFields(logrus.Fields{
		"source_rate":     reader.sampleRate,
		"source_channels": reader.channels,
		"target_rate":     n.targetRate,
		"resampled":       resampled,
		"duration":        duration.Round(time.Millisecond),
	}).Debug("Audio normalized")

	return &NormalizedAudio{
		Path:       outPath,
		SampleRate: n.targetRate,
		Channels:   1,
		Duration:   duration,
	}, nil
}

// downmix averages all channels per frame. Averaging (rather than taking
// channel 0) preserves a speaker confined to a single channel.
func downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[i*channels+ch])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}

// resample converts mono samples from srcRate to the target rate.
func (n *Normalizer) resample(samples []int16, srcRate int) ([]int16, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(n.targetRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s) / 32768.0
	}

	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	out := make([]int16, len(output))
	for i, s := range output {
		switch {
		case s > 1.0:
			out[i] = 32767
		case s < -1.0:
			out[i] = -32768
		default:
			out[i] = int16(s * 32767.0)
		}
	}
	return out, nil
}
