package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	vanotel "github.com/vantage-io/vantage/internal/otel"
)

// AnthropicProvider implements Provider for the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewAnthropicProvider creates an Anthropic provider with the given API key.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    "https://api.anthropic.com",
	}
}

// NewAnthropicProviderWithBaseURL creates an Anthropic provider pointed at a
// custom endpoint (tests, proxies).
func NewAnthropicProviderWithBaseURL(apiKey, baseURL string) *AnthropicProvider {
	p := NewAnthropicProvider(apiKey)
	p.baseURL = baseURL
	return p
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
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

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends a completion request to Anthropic.
func (p *AnthropicProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.generate",
		trace.WithAttributes(
			vanotel.GenAISystem.String("anthropic"),
			vanotel.GenAIRequestModel.String(req.Model),
			vanotel.GenAIRequestTemperature.Float64(req.Temperature),
			vanotel.GenAIRequestMaxTokens.Int(req.MaxTokens),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, TimeoutGenerate)
	defer cancel()

	apiReq := anthropicRequest{
		Model:       req.Model,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshalling anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &ProviderError{Provider: "anthropic", Kind: KindTimeout, Err: err}
		}
		return nil, &ProviderError{Provider: "anthropic", Kind: KindUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		// Prefer the structured API error type over the raw body text.
		var apiErr anthropicErrorBody
		detail := string(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			detail = apiErr.Error.Type + ": " + apiErr.Error.Message
		}
		return nil, &ProviderError{
			Provider: "anthropic",
			Kind:     kindFromStatus(resp.StatusCode),
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("anthropic api error %d: %s", resp.StatusCode, detail),
		}
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decoding anthropic response: %w", err)
	}

	span.SetAttributes(
		vanotel.GenAIUsageInputTokens.Int(apiResp.Usage.InputTokens),
		vanotel.GenAIUsageOutputTokens.Int(apiResp.Usage.OutputTokens),
		vanotel.GenAIResponseFinishReason.String(apiResp.StopReason),
		vanotel.GenAIResponseID.String(apiResp.ID),
	)

	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" && block.Text != "" {
			content.WriteString(block.Text)
		}
	}

	return &Response{
		Content:      content.String(),
		FinishReason: apiResp.StopReason,
		InputTokens:  apiResp.Usage.InputTokens,
		OutputTokens: apiResp.Usage.OutputTokens,
		Model:        req.Model,
	}, nil
}

// EstimateCost estimates the cost in EUR for the given model and token counts.
func (p *AnthropicProvider) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	type pricing struct {
		input  float64
		output float64
	}
	// EUR per 1K tokens, approximate.
	prices := map[string]pricing{
		"claude-sonnet-4-20250514": {input: 0.0028, output: 0.0138},
		"claude-3-5-haiku-latest":  {input: 0.00074, output: 0.0037},
	}
	pr, ok := prices[model]
	if !ok {
		pr = pricing{input: 0.0028, output: 0.0138}
	}
	return float64(inputTokens)/1000*pr.input + float64(outputTokens)/1000*pr.output
}
