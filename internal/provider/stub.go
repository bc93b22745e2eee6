package provider

import (
	"context"
	"fmt"
)

// Stub is a deterministic offline Generator for development and tests.
type Stub struct {
	model string
}

// NewStub creates a stub generator.
func NewStub(model string) *Stub {
	return &Stub{model: model}
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Generate(ctx context.Context, req Request) (*Result, error) {
	text := fmt.Sprintf("// generated by %s stub\n// instruction: %s\n", s.model, req.UserMessage)
	return &Result{
		Text:       text,
		StopReason: "end_turn",
		Usage: Usage{
			InputTokens:  len(req.SystemPrompt) + len(req.UserMessage),
			OutputTokens: len(text),
		},
	}, nil
}
