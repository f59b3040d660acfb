// Package openai talks to OpenAI-compatible chat completion endpoints. The
// default target is Gemini's OpenAI endpoint.
package openai

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

	"github.com/user/bedtime/pkg/llm"
)

// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// ErrContentFiltered is returned when the backend stopped on a safety filter
// without producing text.
var ErrContentFiltered = errors.New("completion blocked by content filter")

// Client implements llm.Provider over POST {base}/chat/completions.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client. An empty BaseURL means DefaultBaseURL and a zero
// Timeout means 60s.
func New(cfg *llm.Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(base, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      llm.Message `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// APIError is a non-200 reply. Message and Status come from the error
// envelope when the body has one.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (status %d %s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
		Type    string `json:"type"`
	} `json:"error"`
}

// parseAPIError reads both the OpenAI shape {"error":{...}} and Google's
// list form [{"error":{...}}].
func parseAPIError(code int, body []byte) *APIError {
	e := &APIError{StatusCode: code, Body: string(body)}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		var list []errorEnvelope
		if json.Unmarshal(body, &list) != nil || len(list) == 0 {
			return e
		}
		env = list[0]
	}
	e.Message = env.Error.Message
	e.Status = env.Error.Status
	if e.Status == "" {
		e.Status = env.Error.Type
	}
	return e
}

// Complete sends one chat completion request. It never retries.
func (c *Client) Complete(ctx context.Context, r *llm.Request) (*llm.Response, error) {
	if r.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	in := chatRequest{Model: r.Model, Messages: r.Messages, MaxTokens: r.MaxTokens}
	if r.Temperature != 0 {
		t := r.Temperature
		in.Temperature = &t
	}

	var out chatResponse
	if err := c.post(ctx, "/chat/completions", in, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	first := out.Choices[0]
	reason := strings.ToLower(first.FinishReason)
	if strings.TrimSpace(first.Message.Content) == "" && (reason == "content_filter" || reason == "safety") {
		return nil, ErrContentFiltered
	}

	model := strings.TrimPrefix(out.Model, "models/")
	if model == "" {
		model = r.Model
	}
	return &llm.Response{
		Content:      first.Message.Content,
		Model:        model,
		FinishReason: reason,
		Usage: llm.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return parseAPIError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
