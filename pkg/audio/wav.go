package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// maxFmtChunkSize bounds the fmt chunk; real fmt chunks are 16-40 bytes
// and the declared size is attacker-controlled.
const maxFmtChunkSize = 1024

// wavReader provides minimal streaming reads for 16-bit PCM WAV files.
type wavReader struct {
	file          *os.File
	sampleRate    int
	channels      int
	bitsPerSample int

	dataOffset int64
	dataSize   int64
	bytesRead  int64
}

// openWAV opens a WAV file and parses its header.
func openWAV(path string) (*wavReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	reader := &wavReader{file: f}
	if err := reader.parseHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return reader, nil
}

func (wr *wavReader) parseHeader() error {
	header := make([]byte, 12)
	if _, err := io.ReadFull(wr.file, header); err != nil {
		return fmt.Errorf("short header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return errNotRIFF
	}

	var fmtFound bool
	var dataFound bool

	for !fmtFound || !dataFound {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(wr.file, chunkHeader); err != nil {
			return fmt.Errorf("truncated chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || chunkSize > maxFmtChunkSize {
				return fmt.Errorf("implausible fmt chunk size: %d bytes", chunkSize)
			}
			fmtChunk := make([]byte, chunkSize)
			if _, err := io.ReadFull(wr.file, fmtChunk); err != nil {
				return fmt.Errorf("truncated fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(fmtChunk[0:2])
			if audioFormat != 1 {
				return fmt.Errorf("unsupported audio format code: %d", audioFormat)
			}
			wr.channels = int(binary.LittleEndian.Uint16(fmtChunk[2:4]))
			wr.sampleRate = int(binary.LittleEndian.Uint32(fmtChunk[4:8]))
			wr.bitsPerSample = int(binary.LittleEndian.Uint16(fmtChunk[14:16]))
			if wr.bitsPerSample != 16 {
				return fmt.Errorf("unsupported bits per sample: %d", wr.bitsPerSample)
			}
			if wr.channels < 1 || wr.sampleRate < 1 {
				return fmt.Errorf("invalid format: channels=%d rate=%d", wr.channels, wr.sampleRate)
			}
			fmtFound = true
		case "data":
			wr.dataOffset, _ = wr.file.Seek(0, io.SeekCurrent)
			wr.dataSize = int64(chunkSize)

			// The declared size is attacker-controlled; never trust it
			// past what the file actually carries
			info, err := wr.file.Stat()
			if err != nil {
				return err
			}
			if remaining := info.Size() - wr.dataOffset; wr.dataSize > remaining {
				wr.dataSize = remaining
			}
			if wr.dataSize < 0 {
				wr.dataSize = 0
			}

			if _, err := wr.file.Seek(wr.dataSize, io.SeekCurrent); err != nil {
				return fmt.Errorf("truncated data chunk: %w", err)
			}
			dataFound = true
		default:
			if _, err := wr.file.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				return fmt.Errorf("truncated %q chunk: %w", chunkID, err)
			}
		}
	}

	if _, err := wr.file.Seek(wr.dataOffset, io.SeekStart); err != nil {
		return err
	}

	return nil
}

// readAll decodes the full data chunk into interleaved samples.
func (wr *wavReader) readAll() ([]int16, error) {
	bytesPerFrame := wr.channels * (wr.bitsPerSample / 8)
	if wr.dataSize%int64(bytesPerFrame) != 0 {
		// Truncate to whole frames; an odd tail is tolerated
		wr.dataSize -= wr.dataSize % int64(bytesPerFrame)
	}

	raw := make([]byte, wr.dataSize)
	n, err := io.ReadFull(wr.file, raw)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("truncated sample data: %w", err)
	}
	raw = raw[:n-(n%2)]

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
	}
	return samples, nil
}

func (wr *wavReader) Close() error {
	if wr.file == nil {
		return nil
	}
	err := wr.file.Close()
	wr.file = nil
	return err
}

// writeWAV writes mono or multi-channel PCM16 samples into a WAV container.
func writeWAV(path string, sampleRate, channels int, samples []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dataSize := uint32(len(samples) * 2)
	byteRate := uint32(sampleRate * channels * 2)
	blockAlign := uint16(channels * 2)

	header := make([]byte, 44)
	copy(header[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(header[4:], 36+dataSize)
	copy(header[8:], []byte("WAVE"))
	copy(header[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:], byteRate)
	binary.LittleEndian.PutUint16(header[32:], blockAlign)
	binary.LittleEndian.PutUint16(header[34:], 16)
	copy(header[36:], []byte("data"))
	binary.LittleEndian.PutUint32(header[40:], dataSize)

	if _, err := f.Write(header); err != nil {
		return err
	}

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	if _, err := f.Write(buf); err != nil {
		return err
	}

	return f.Sync()
}
