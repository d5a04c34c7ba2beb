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

const sentimentSystemPrompt = `You are a sentiment classifier for call-center transcripts. ` +
	`Respond with only a JSON object of the form {"label": "Positive|Negative|Neutral", "score": <confidence 0..1>}.`

// GroqSentimentProvider implements SentimentScorer against an
// OpenAI-compatible chat completion endpoint.
type GroqSentimentProvider struct {
	logger *logrus.Logger
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewGroqSentimentProvider creates a new chat-completion sentiment scorer.
func NewGroqSentimentProvider(logger *logrus.Logger, url, apiKey, model string) *GroqSentimentProvider {
	return &GroqSentimentProvider{
		logger: logger,
		url:    url,
		apiKey: apiKey,
		model:  model,
		client: &http.Client{},
	}
}

// Name returns the provider name
func (p *GroqSentimentProvider) Name() string {
	return "groq"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// ScoreSentiment classifies a single segment's text.
func (p *GroqSentimentProvider) ScoreSentiment(ctx context.Context, text string) (SentimentScore, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: sentimentSystemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0,
	})
	if err != nil {
		return SentimentScore{}, errors.Wrap(err, "failed to marshal sentiment request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return SentimentScore{}, errors.Wrap(err, "failed to create sentiment request")
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return SentimentScore{}, errors.Wrap(errors.ErrExternalTimeout, "sentiment request timed out")
		}
		return SentimentScore{}, errors.Wrap(errors.ErrExternalUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return SentimentScore{}, errors.Wrap(errors.ErrExternalUnavailable,
			fmt.Sprintf("sentiment API returned %d: %s", resp.StatusCode, string(raw)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SentimentScore{}, errors.Wrap(errors.ErrExternalUnavailable, fmt.Sprintf("malformed sentiment response: %v", err))
	}
	if len(out.Choices) == 0 {
		return SentimentScore{}, errors.Wrap(errors.ErrExternalUnavailable, "sentiment response has no choices")
	}

	return parseSentimentContent(out.Choices[0].Message.Content)
}

// parseSentimentContent parses the model's answer. The model is asked for
// bare JSON but sometimes wraps it in prose or code fences; the repair
// fallback in unmarshalModelJSON handles those.
func parseSentimentContent(content string) (SentimentScore, error) {
	var score SentimentScore
	if err := unmarshalModelJSON([]byte(strings.TrimSpace(content)), &score); err != nil {
		return SentimentScore{}, errors.Wrap(errors.ErrExternalUnavailable,
			fmt.Sprintf("unparseable sentiment payload: %v", err))
	}

	score.Label = canonicalSentimentLabel(score.Label)
	if score.Label == "" {
		return SentimentScore{}, errors.Wrap(errors.ErrExternalUnavailable, "sentiment payload has invalid label")
	}

	return score.Clamp(), nil
}

// canonicalSentimentLabel maps the model's label to the fixed label set,
// returning "" for anything unrecognized.
func canonicalSentimentLabel(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "positive":
		return SentimentPositive
	case "negative":
		return SentimentNegative
	case "neutral":
		return SentimentNeutral
	default:
		return ""
	}
}
