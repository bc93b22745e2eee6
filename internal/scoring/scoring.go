// Package scoring wraps the external static-analysis scoring engine. Only
// the call contract lives here; the engine's internals are someone else's
// problem.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Category is one scored dimension of a workspace.
type Category struct {
	Name     string `json:"name"`
	Score    int    `json:"score"`
	MaxScore int    `json:"maxScore"`
}

// Evaluation is the engine's verdict for one workspace.
type Evaluation struct {
	Score      int        `json:"score"`
	MaxScore   int        `json:"maxScore"`
	Categories []Category `json:"categories"`
}

// Evaluator scores a workspace.
type Evaluator interface {
	Evaluate(ctx context.Context, workspaceRef string) (*Evaluation, error)
}

// HTTPEvaluator calls a remote scoring service.
type HTTPEvaluator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEvaluator creates an evaluator against the given base URL.
func NewHTTPEvaluator(baseURL string) *HTTPEvaluator {
	return &HTTPEvaluator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *HTTPEvaluator) Evaluate(ctx context.Context, workspaceRef string) (*Evaluation, error) {
	url := fmt.Sprintf("%s/evaluate?workspace=%s", e.baseURL, workspaceRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scoring engine returned status code: %d", resp.StatusCode)
	}

	var evaluation Evaluation
	if err := json.NewDecoder(resp.Body).Decode(&evaluation); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation: %w", err)
	}
	return &evaluation, nil
}

// StaticEvaluator returns a fixed evaluation; used when no scoring engine is
// configured (development mode).
type StaticEvaluator struct {
	Evaluation Evaluation
}

func (e *StaticEvaluator) Evaluate(ctx context.Context, workspaceRef string) (*Evaluation, error) {
	evaluation := e.Evaluation
	return &evaluation, nil
}
