// Package provider fronts the interchangeable code-generation backends with
// one uniform call. Adapters are stateless; all serialization of calls
// happens in the session manager.
package provider

import (
	"context"
	"fmt"
)

// Request is one generation call.
type Request struct {
	SystemPrompt string
	UserMessage  string
	MaxTokens    int
}

// Usage reports token accounting from the backend.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Result is the backend's answer. Text may be empty; callers decide what an
// empty result means.
type Result struct {
	Text       string
	Usage      Usage
	StopReason string
}

// Generator is the uniform generation backend contract.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Factory builds a Generator for a provider/model pair.
type Factory interface {
	New(providerName, model string) (Generator, error)
}

// Registry is the default Factory, keyed by provider name.
type Registry struct {
	anthropicAPIKey string
	openaiAPIKey    string
}

// NewRegistry creates a registry with the configured API keys.
func NewRegistry(anthropicAPIKey, openaiAPIKey string) *Registry {
	return &Registry{anthropicAPIKey: anthropicAPIKey, openaiAPIKey: openaiAPIKey}
}

// New returns a Generator for the named provider.
func (r *Registry) New(providerName, model string) (Generator, error) {
	switch providerName {
	case "anthropic":
		return NewAnthropicClient(r.anthropicAPIKey, model), nil
	case "openai":
		return NewOpenAIClient(r.openaiAPIKey, model), nil
	case "stub":
		return NewStub(model), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}
}
