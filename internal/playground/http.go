package playground

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
)

const defaultMaxTokens = 1000

// HTTPBackend calls an OpenAI-compatible chat completions endpoint.
type HTTPBackend struct {
	URL      string
	APIKey   string
	Upstream string // model id sent upstream; empty forwards the playground name
	System   string
	Client   *http.Client
}

// NewHTTPBackend returns a backend with a bounded request timeout.
func NewHTTPBackend(url, apiKey, upstream string) *HTTPBackend {
	return &HTTPBackend{
		URL:      url,
		APIKey:   apiKey,
		Upstream: upstream,
		System:   "You are a helpful assistant for an internal GenAI project portal.",
		Client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type chatCompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (b *HTTPBackend) Reply(ctx context.Context, model string, conversation []Message, maxTokens int) (string, error) {
	if strings.TrimSpace(b.URL) == "" {
		return "", fmt.Errorf("%w: chat endpoint not configured", ErrUpstream)
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	upstream := b.Upstream
	if upstream == "" {
		upstream = model
	}
	messages := make([]Message, 0, len(conversation)+1)
	if b.System != "" {
		messages = append(messages, Message{Role: "system", Content: b.System})
	}
	messages = append(messages, conversation...)

	buf, err := json.Marshal(chatCompletionRequest{Model: upstream, Messages: messages, MaxTokens: maxTokens})
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.APIKey)
	}

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	var out chatCompletionResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out)
	if resp.StatusCode >= 300 {
		detail := resp.Status
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			detail = out.Error.Message
		}
		return "", fmt.Errorf("%w: %s", ErrUpstream, detail)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpstream, decodeErr)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: %v", ErrUpstream, errors.New("no choices returned"))
	}
	return out.Choices[0].Message.Content, nil
}
