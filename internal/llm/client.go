// Package llm talks to an OpenAI-compatible chat completions endpoint and
// streams the generated text back fragment by fragment.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"llm-chat/internal/logger"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Streamer is what the relay needs from the upstream model.
type Streamer interface {
	// StreamChat calls onDelta for every non-empty fragment in arrival order
	// and returns the concatenated text once the upstream stream ends.
	StreamChat(ctx context.Context, messages []Message, onDelta func(delta string) error) (string, error)
}

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	log        *logger.Logger
}

func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("llm: base url required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("llm: model required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		// No overall timeout: streams may legitimately run for minutes.
		hc = &http.Client{Transport: &http.Transport{
			ResponseHeaderTimeout: 60 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		}}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      cfg.Model,
		httpClient: hc,
		log:        log.With("component", "llm"),
	}, nil
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llm upstream status %d: %s", e.StatusCode, e.Body)
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error json.RawMessage `json:"error"`
}

func (c *Client) StreamChat(ctx context.Context, messages []Message, onDelta func(delta string) error) (string, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(chatRequest{Model: c.model, Messages: messages, Stream: true}); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return "", err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var full strings.Builder
	err = ReadEvents(resp.Body, func(_ string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.log.Debug("skipping unparseable upstream event", "error", err)
			return nil
		}
		if len(chunk.Error) > 0 && string(chunk.Error) != "null" {
			return fmt.Errorf("llm stream error: %s", string(chunk.Error))
		}
		for _, ch := range chunk.Choices {
			d := ch.Delta.Content
			if d == "" {
				continue
			}
			full.WriteString(d)
			if onDelta != nil {
				if err := onDelta(d); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return full.String(), nil
}
