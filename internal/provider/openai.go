package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// OpenAIClient generates against the OpenAI chat completions API.
type OpenAIClient struct {
	base  *baseClient
	model string
}

// NewOpenAIClient creates an adapter for the given model.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	base := newBaseClient("https://api.openai.com")
	base.setHeader("Authorization", "Bearer "+apiKey)
	return &OpenAIClient{base: base, model: model}
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Result, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": req.SystemPrompt},
			{"role": "user", "content": req.UserMessage},
		},
	}
	if req.MaxTokens > 0 {
		payload["max_completion_tokens"] = req.MaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.base.postJSON(ctx, "/v1/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("openai generate: %w", err)
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := &Result{
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) > 0 {
		result.Text = resp.Choices[0].Message.Content
		result.StopReason = resp.Choices[0].FinishReason
	}
	return result, nil
}
