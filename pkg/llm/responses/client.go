// Package responses implements llm.Provider on top of the official openai-go
// SDK and its Responses API.
package responses

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/user/bedtime/pkg/llm"
)

// Client sends completion requests through the Responses API.
type Client struct {
	client *openai.Client
}

// New builds a Client. The SDK's own retry loop is disabled; fallback across
// models is the caller's job.
func New(config *llm.Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(config.BaseURL, "/")+"/"))
	}
	client := openai.NewClient(opts...)
	return &Client{client: &client}
}

// Complete maps system messages onto Instructions and the rest onto input items.
func (c *Client) Complete(ctx context.Context, r *llm.Request) (*llm.Response, error) {
	if r.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	var instructions []string
	var items []responses.ResponseInputItemUnionParam
	for _, m := range r.Messages {
		switch m.Role {
		case "system":
			instructions = append(instructions, m.Content)
		case "assistant":
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleAssistant))
		default:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleUser))
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("request has no input messages")
	}

	params := responses.ResponseNewParams{
		Model: r.Model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if len(instructions) > 0 {
		params.Instructions = openai.String(strings.Join(instructions, "\n\n"))
	}
	if r.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(r.MaxTokens))
	}
	if r.Temperature != 0 {
		params.Temperature = openai.Float(float64(r.Temperature))
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("responses API: %w", err)
	}

	text := resp.OutputText()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty output from model %s", r.Model)
	}

	model := string(resp.Model)
	if model == "" {
		model = r.Model
	}
	return &llm.Response{
		Content:      text,
		Model:        model,
		FinishReason: string(resp.Status),
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}, nil
}
