// Package llm abstracts the generative-inference collaborator behind a
// Provider contract. The pipeline treats the call as a black box: a prompt
// plus system instructions in, text expected to contain one JSON object out.
package llm

import (
	"context"
	"time"
)

// TimeoutGenerate is the only application-level timeout in the pipeline.
// Transient failures are surfaced to the caller's outer retry policy, never
// retried internally.
const TimeoutGenerate = 60 * time.Second

// Provider is the interface all generative providers implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string
	// Generate sends a completion request and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
	// EstimateCost estimates the cost in EUR for the given model and token counts.
	EstimateCost(model string, inputTokens, outputTokens int) float64
}

// Request is a generation request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Response is a generation response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}
