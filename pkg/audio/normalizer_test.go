package audio

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	apperrors "callqa-server/pkg/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestWAV writes a sine tone WAV file and returns its path.
func writeTestWAV(t *testing.T, sampleRate, channels int, seconds float64) string {
	t.Helper()

	frames := int(float64(sampleRate) * seconds)
	samples := make([]int16, frames*channels)
	for i := 0; i < frames; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		for ch := 0; ch < channels; ch++ {
			samples[i*channels+ch] = v
		}
	}

	path := filepath.Join(t.TempDir(), "input.wav")
	require.NoError(t, writeWAV(path, sampleRate, channels, samples))
	return path
}

func TestNormalizeAlreadyCanonical(t *testing.T) {
	path := writeTestWAV(t, 16000, 1, 0.5)
	norm := NewNormalizer(logrus.New(), 16000, t.TempDir())

	out, err := norm.Normalize(context.Background(), path)
	require.NoError(t, err)
	defer out.Cleanup()

	assert.Equal(t, 16000, out.SampleRate)
	assert.Equal(t, 1, out.Channels)

	reader, err := openWAV(out.Path)
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, 16000, reader.sampleRate)
	assert.Equal(t, 1, reader.channels)
}

func TestNormalizeDownmixesStereo(t *testing.T) {
	path := writeTestWAV(t, 16000, 2, 0.25)
	norm := NewNormalizer(logrus.New(), 16000, t.TempDir())

	out, err := norm.Normalize(context.Background(), path)
	require.NoError(t, err)
	defer out.Cleanup()

	reader, err := openWAV(out.Path)
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, 1, reader.channels)

	// Frame count must be preserved by the downmix
	samples, err := reader.readAll()
	require.NoError(t, err)
	assert.Equal(t, int(0.25*16000), len(samples))
}

func TestNormalizeResamples(t *testing.T) {
	path := writeTestWAV(t, 44100, 1, 0.25)
	norm := NewNormalizer(logrus.New(), 16000, t.TempDir())

	out, err := norm.Normalize(context.Background(), path)
	require.NoError(t, err)
	defer out.Cleanup()

	reader, err := openWAV(out.Path)
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, 16000, reader.sampleRate)

	samples, err := reader.readAll()
	require.NoError(t, err)
	// Allow slack for resampler edge behavior
	assert.InDelta(t, 0.25*16000, float64(len(samples)), 0.25*16000*0.05)
}

func TestNormalizeUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3\x04\x00\x00 not a wav at all, just some bytes"), 0644))

	norm := NewNormalizer(logrus.New(), 16000, t.TempDir())
	_, err := norm.Normalize(context.Background(), path)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)
}

func TestNormalizeCorruptAudio(t *testing.T) {
	// Valid magic but truncated body
	path := filepath.Join(t.TempDir(), "input.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF\x24\x00\x00\x00WAVEfmt "), 0644))

	norm := NewNormalizer(logrus.New(), 16000, t.TempDir())
	_, err := norm.Normalize(context.Background(), path)
	assert.ErrorIs(t, err, apperrors.ErrCorruptAudio)
}

func TestCleanupRemovesArtifact(t *testing.T) {
	path := writeTestWAV(t, 16000, 1, 0.1)
	norm := NewNormalizer(logrus.New(), 16000, t.TempDir())

	out, err := norm.Normalize(context.Background(), path)
	require.NoError(t, err)

	artifact := out.Path
	_, statErr := os.Stat(artifact)
	require.NoError(t, statErr)

	out.Cleanup()
	_, statErr = os.Stat(artifact)
	assert.True(t, os.IsNotExist(statErr))

	// Second cleanup is a no-op
	out.Cleanup()
}

func TestDownmixAverages(t *testing.T) {
	// Left channel carries signal, right channel silence; average must halve it
	stereo := []int16{1000, 0, 2000, 0, -3000, 0}
	mono := downmix(stereo, 2)
	assert.Equal(t, []int16{500, 1000, -1500}, mono)
}

// writeCraftedWAV writes a header claiming declaredDataSize while
// carrying only payload bytes of actual sample data.
func writeCraftedWAV(t *testing.T, declaredDataSize uint32, payload []byte) string {
	t.Helper()

	buf := make([]byte, 44+len(payload))
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], 36+declaredDataSize)
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], 1)
	binary.LittleEndian.PutUint32(buf[24:], 16000)
	binary.LittleEndian.PutUint32(buf[28:], 32000)
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], declaredDataSize)
	copy(buf[44:], payload)

	path := filepath.Join(t.TempDir(), "crafted.wav")
	require.NoError(t, os.WriteFile(path, buf, 0644))
	return path
}

func TestWAVDeclaredSizeClampedToFile(t *testing.T) {
	// 44-byte file claiming a ~4 GB data chunk must not allocate from
	// the declared size
	path := writeCraftedWAV(t, 0xFFFFFFF0, nil)

	reader, err := openWAV(path)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, int64(0), reader.dataSize)

	samples, err := reader.readAll()
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestWAVDeclaredSizeClampedToPayload(t *testing.T) {
	payload := make([]byte, 100)
	path := writeCraftedWAV(t, 0xFFFFFFF0, payload)

	reader, err := openWAV(path)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, int64(100), reader.dataSize)

	samples, err := reader.readAll()
	require.NoError(t, err)
	assert.Len(t, samples, 50)
}

func TestWAVImplausibleFmtChunkRejected(t *testing.T) {
	buf := make([]byte, 20)
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], 0xFFFFFFF0)
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 0xFFFFFFF0)

	path := filepath.Join(t.TempDir(), "crafted.wav")
	require.NoError(t, os.WriteFile(path, buf, 0644))

	_, err := openWAV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "implausible fmt chunk size")
}
