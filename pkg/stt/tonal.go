package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"callqa-server/pkg/errors"

	"github.com/sirupsen/logrus"
)

// HuggingFaceTonalProvider implements TonalScorer against a hosted
// inference endpoint returning a label/score emotion distribution.
type HuggingFaceTonalProvider struct {
	logger *logrus.Logger
	url    string
	apiKey string
	client *http.Client
}

// NewHuggingFaceTonalProvider creates a new tonal emotion scorer.
func NewHuggingFaceTonalProvider(logger *logrus.Logger, url, apiKey string) *HuggingFaceTonalProvider {
	return &HuggingFaceTonalProvider{
		logger: logger,
		url:    url,
		apiKey: apiKey,
		client: &http.Client{},
	}
}

// Name returns the provider name
func (p *HuggingFaceTonalProvider) Name() string {
	return "huggingface"
}

type tonalRequest struct {
	Inputs string `json:"inputs"`
}

type tonalLabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ScoreTonal classifies a single segment's text into the fixed emotion
// label set.
func (p *HuggingFaceTonalProvider) ScoreTonal(ctx context.Context, text string) (TonalScore, error) {
	body, err := json.Marshal(tonalRequest{Inputs: text})
	if err != nil {
		return TonalScore{}, errors.Wrap(err, "failed to marshal tonal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return TonalScore{}, errors.Wrap(err, "failed to create tonal request")
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return TonalScore{}, errors.Wrap(errors.ErrExternalTimeout, "tonal request timed out")
		}
		return TonalScore{}, errors.Wrap(errors.ErrExternalUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return TonalScore{}, errors.Wrap(errors.ErrExternalUnavailable,
			fmt.Sprintf("tonal API returned %d: %s", resp.StatusCode, string(raw)))
	}

	// The inference API nests the distribution one level deep:
	// [[{"label": "...", "score": ...}, ...]]
	var out [][]tonalLabelScore
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TonalScore{}, errors.Wrap(errors.ErrExternalUnavailable, fmt.Sprintf("malformed tonal response: %v", err))
	}
	if len(out) == 0 || len(out[0]) == 0 {
		return TonalScore{}, errors.Wrap(errors.ErrExternalUnavailable, "tonal response is empty")
	}

	return foldTonalLabels(out[0]), nil
}

// foldTonalLabels reduces a model's emotion labels to the fixed
// {Neutral, Negative} distribution. Negative-family emotions contribute
// their maximum score so a single strong signal isn't diluted.
func foldTonalLabels(labels []tonalLabelScore) TonalScore {
	var score TonalScore
	for _, ls := range labels {
		switch strings.ToLower(ls.Label) {
		case "neutral", "calm":
			if ls.Score > score.Neutral {
				score.Neutral = ls.Score
			}
		case "negative", "anger", "angry", "sadness", "sad", "fear", "fearful", "disgust", "annoyance", "frustration":
			if ls.Score > score.Negative {
				score.Negative = ls.Score
			}
		}
	}
	return score.Clamp()
}
