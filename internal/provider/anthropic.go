package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicClient generates against the Anthropic messages API.
type AnthropicClient struct {
	base  *baseClient
	model string
}

// NewAnthropicClient creates an adapter for the given model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	base := newBaseClient("https://api.anthropic.com")
	base.setHeader("x-api-key", apiKey)
	base.setHeader("anthropic-version", "2023-06-01")
	return &AnthropicClient{base: base, model: model}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) Generate(ctx context.Context, req Request) (*Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	body, err := json.Marshal(map[string]any{
		"model":      c.model,
		"max_tokens": maxTokens,
		"system":     req.SystemPrompt,
		"messages": []map[string]string{
			{"role": "user", "content": req.UserMessage},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.base.postJSON(ctx, "/v1/messages", body)
	if err != nil {
		return nil, fmt.Errorf("anthropic generate: %w", err)
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Result{
		Text:       text,
		StopReason: resp.StopReason,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}
