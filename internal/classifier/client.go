// Package classifier calls the external tone/sentiment model through an
// OpenAI-compatible chat completions endpoint.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"reviewpulse/api/internal/config"
)

// ErrMalformed marks a response the parser refuses: the label markers are
// missing or a label is empty. Callers treat it as retryable and must not
// persist anything from such a response.
var ErrMalformed = errors.New("malformed classifier response")

const (
	toneMarker      = "Tone:"
	sentimentMarker = "Sentiment:"
)

// Result holds the two labels extracted from a well-formed response.
type Result struct {
	Tone      string
	Sentiment string
}

type Client struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

func New(cfg config.ClassifierConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify sends the review text and rating to the model and parses the
// returned labels. Transport failures, non-2xx statuses and unparseable
// output all surface as errors; no partial result is ever returned.
func (c *Client) Classify(ctx context.Context, text string, stars int) (Result, error) {
	prompt := fmt.Sprintf(
		"Review: %q\nRating: %d stars\n\n"+
			"Determine the tone and the sentiment of the review. "+
			"Answer with exactly two lines in the form:\nTone: <label>\nSentiment: <label>",
		text, stars,
	)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal classify payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("classify call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{}, fmt.Errorf("classifier error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode classifier response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("classifier response has no choices: %w", ErrMalformed)
	}

	return ParseLabels(parsed.Choices[0].Message.Content)
}

// ParseLabels extracts the tone and sentiment labels. It fails closed:
// both markers must be present, in order, with non-empty labels.
func ParseLabels(analysis string) (Result, error) {
	toneIdx := strings.Index(analysis, toneMarker)
	sentimentIdx := strings.Index(analysis, sentimentMarker)
	if toneIdx < 0 || sentimentIdx < 0 || sentimentIdx < toneIdx {
		return Result{}, ErrMalformed
	}

	tone := strings.TrimSpace(analysis[toneIdx+len(toneMarker) : sentimentIdx])
	sentiment := strings.TrimSpace(analysis[sentimentIdx+len(sentimentMarker):])
	if tone == "" || sentiment == "" {
		return Result{}, ErrMalformed
	}
	return Result{Tone: tone, Sentiment: sentiment}, nil
}
