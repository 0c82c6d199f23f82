package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	vanotel "github.com/vantage-io/vantage/internal/otel"
)

var tracer = vanotel.Tracer("github.com/vantage-io/vantage/internal/llm")

// OpenAIProvider implements Provider for OpenAI and API-compatible backends.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates an OpenAI provider with the given API key.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey)}
}

// NewOpenAIProviderWithBaseURL creates an OpenAI provider with a custom base
// URL (e.g. for tests pointing at a mock server). baseURL should be the
// scheme+host without path; the client appends /v1 as needed.
func NewOpenAIProviderWithBaseURL(apiKey, baseURL string) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"
	return &OpenAIProvider{client: openai.NewClientWithConfig(config)}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Generate sends a chat completion request to OpenAI.
func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.generate",
		trace.WithAttributes(
			vanotel.GenAISystem.String("openai"),
			vanotel.GenAIRequestModel.String(req.Model),
			vanotel.GenAIRequestTemperature.Float64(req.Temperature),
			vanotel.GenAIRequestMaxTokens.Int(req.MaxTokens),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, TimeoutGenerate)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.System},
		{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &ProviderError{
			Provider: "openai",
			Kind:     KindValidation,
			Err:      errors.New("no choices returned"),
		}
	}

	span.SetAttributes(
		vanotel.GenAIUsageInputTokens.Int(resp.Usage.PromptTokens),
		vanotel.GenAIUsageOutputTokens.Int(resp.Usage.CompletionTokens),
		vanotel.GenAIResponseFinishReason.String(string(resp.Choices[0].FinishReason)),
	)

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
	}, nil
}

// classifyOpenAIError lifts the structured status from the go-openai error
// type; the substring fallback applies only when no structure is available.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider: "openai",
			Kind:     kindFromStatus(apiErr.HTTPStatusCode),
			Status:   apiErr.HTTPStatusCode,
			Err:      err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: "openai", Kind: KindTimeout, Err: err}
	}
	return &ProviderError{Provider: "openai", Kind: kindFromText(err.Error()), Err: fmt.Errorf("openai api call: %w", err)}
}

// EstimateCost estimates the cost in EUR for the given model and token counts.
func (p *OpenAIProvider) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	type pricing struct {
		input  float64
		output float64
	}
	// EUR per 1K tokens, approximate.
	prices := map[string]pricing{
		"gpt-4o":      {input: 0.0023, output: 0.0092},
		"gpt-4o-mini": {input: 0.00014, output: 0.00055},
	}
	p100, ok := prices[model]
	if !ok {
		p100 = pricing{input: 0.0023, output: 0.0092}
	}
	return float64(inputTokens)/1000*p100.input + float64(outputTokens)/1000*p100.output
}
