package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"callqa-server/pkg/errors"
	"callqa-server/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// AssemblyAIProvider implements Transcriber against the AssemblyAI batch
// transcription API: upload, create a diarized transcript job, poll until
// it completes.
type AssemblyAIProvider struct {
	logger       *logrus.Logger
	baseURL      string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
}

// NewAssemblyAIProvider creates a new AssemblyAI transcription provider.
func NewAssemblyAIProvider(logger *logrus.Logger, baseURL, apiKey string) *AssemblyAIProvider {
	return &AssemblyAIProvider{
		logger:       logger,
		baseURL:      baseURL,
		apiKey:       apiKey,
		client:       &http.Client{},
		pollInterval: 3 * time.Second,
	}
}

// Name returns the provider name
func (p *AssemblyAIProvider) Name() string {
	return "assemblyai"
}

// Response contracts, parsed strictly at the adapter edge. Shape
// mismatches fail the request instead of leaking loose maps downstream.
type assemblyUploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type assemblyCreateRequest struct {
	AudioURL          string `json:"audio_url"`
	SpeakerLabels     bool   `json:"speaker_labels"`
	SpeakersExpected  int    `json:"speakers_expected,omitempty"`
	LanguageDetection bool   `json:"language_detection"`
}

type assemblyUtterance struct {
	Start   int    `json:"start"` // milliseconds
	End     int    `json:"end"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type assemblyTranscriptResponse struct {
	ID           string              `json:"id"`
	Status       string              `json:"status"`
	Error        string              `json:"error"`
	LanguageCode string              `json:"language_code"`
	Utterances   []assemblyUtterance `json:"utterances"`
}

// Transcribe uploads the audio and blocks until the diarized transcript
// is complete or ctx expires.
func (p *AssemblyAIProvider) Transcribe(ctx context.Context, audioPath string, hints SpeakerHints) (*TranscriptResult, error) {
	if err := hints.Validate(); err != nil {
		return nil, err
	}

	done := metricsObserveTranscription(p.Name())
	defer done()

	audioURL, err := p.upload(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	transcriptID, err := p.createTranscript(ctx, audioURL, hints)
	if err != nil {
		return nil, err
	}

	return p.poll(ctx, transcriptID)
}

func (p *AssemblyAIProvider) upload(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", errors.Wrap(err, "failed to open normalized audio")
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/upload", f)
	if err != nil {
		return "", errors.Wrap(err, "failed to create upload request")
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var out assemblyUploadResponse
	if err := p.do(req, &out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", errors.Wrap(errors.ErrExternalUnavailable, "upload response missing upload_url")
	}
	return out.UploadURL, nil
}

func (p *AssemblyAIProvider) createTranscript(ctx context.Context, audioURL string, hints SpeakerHints) (string, error) {
	body, err := json.Marshal(assemblyCreateRequest{
		AudioURL:          audioURL,
		SpeakerLabels:     true,
		SpeakersExpected:  hints.Max,
		LanguageDetection: true,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal transcript request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to create transcript request")
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var out assemblyTranscriptResponse
	if err := p.do(req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.Wrap(errors.ErrExternalUnavailable, "transcript response missing id")
	}
	return out.ID, nil
}

func (p *AssemblyAIProvider) poll(ctx context.Context, transcriptID string) (*TranscriptResult, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/transcript/"+transcriptID, nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create poll request")
		}
		req.Header.Set("Authorization", p.apiKey)

		var out assemblyTranscriptResponse
		if err := p.do(req, &out); err != nil {
			return nil, err
		}

		switch out.Status {
		case "completed":
			return p.toResult(&out), nil
		case "error":
			return nil, errors.Wrap(errors.ErrExternalUnavailable, fmt.Sprintf("transcription failed: %s", out.Error))
		}

		p.logger.WithFields(logrus.Fields{
			"transcript_id": transcriptID,
			"status":        out.Status,
		}).Debug("Waiting for transcription")

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(errors.ErrExternalTimeout, "transcription did not complete in time")
		case <-ticker.C:
		}
	}
}

// toResult converts the provider's millisecond utterances into the
// pipeline's segment contract. No utterances is a valid silence result.
func (p *AssemblyAIProvider) toResult(resp *assemblyTranscriptResponse) *TranscriptResult {
	segments := make([]Segment, 0, len(resp.Utterances))
	for _, u := range resp.Utterances {
		segments = append(segments, Segment{
			Start:     float64(u.Start) / 1000.0,
			End:       float64(u.End) / 1000.0,
			SpeakerID: u.Speaker,
			Text:      u.Text,
		})
	}
	return &TranscriptResult{
		Segments: segments,
		Language: resp.LanguageCode,
	}
}

// do executes a request and strictly decodes the JSON response into out.
func (p *AssemblyAIProvider) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return errors.Wrap(errors.ErrExternalTimeout, "transcription request timed out")
		}
		return errors.Wrap(errors.ErrExternalUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Wrap(errors.ErrExternalUnavailable,
			fmt.Sprintf("transcription API returned %d: %s", resp.StatusCode, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(errors.ErrExternalUnavailable, fmt.Sprintf("malformed transcription response: %v", err))
	}
	return nil
}

func metricsObserveTranscription(provider string) func() {
	if metrics.TranscriptionLatency == nil || !metrics.IsMetricsEnabled() {
		return func() {}
	}
	start := time.Now()
	return func() {
		metrics.TranscriptionLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}
}
