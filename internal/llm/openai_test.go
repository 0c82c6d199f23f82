package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewOpenAIProviderWithBaseURL("test-api-key", ts.URL)
}

func TestOpenAIGenerate_Success(t *testing.T) {
	provider := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		resp := openai.ChatCompletionResponse{
			ID:    "chatcmpl-test123",
			Model: "gpt-4o",
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Role:    "assistant",
						Content: `{"decision_type":"PROPOSE_ACTIONS"}`,
					},
					FinishReason: openai.FinishReasonStop,
				},
			},
			Usage: openai.Usage{
				PromptTokens:     10,
				CompletionTokens: 8,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	resp, err := provider.Generate(context.Background(), &Request{
		Model:       "gpt-4o",
		System:      "You evaluate account decisions.",
		Prompt:      "Evaluate account acct-1.",
		Temperature: 0.2,
		MaxTokens:   1024,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"decision_type":"PROPOSE_ACTIONS"}`, resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 10, resp.InputTokens)
	assert.Equal(t, 8, resp.OutputTokens)
	assert.Equal(t, "gpt-4o", resp.Model)
}

func TestOpenAIGenerate_AuthError(t *testing.T) {
	provider := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"message": "Invalid API key",
				"type":    "invalid_request_error",
			},
		})
	})

	_, err := provider.Generate(context.Background(), &Request{
		Model:     "gpt-4o",
		Prompt:    "Hello",
		MaxTokens: 100,
	})
	require.Error(t, err)
	assert.Equal(t, KindAuth, KindOf(err))
}

func TestOpenAIGenerate_RateLimit(t *testing.T) {
	provider := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"message": "Rate limit reached",
				"type":    "rate_limit_error",
			},
		})
	})

	_, err := provider.Generate(context.Background(), &Request{
		Model:     "gpt-4o",
		Prompt:    "Hello",
		MaxTokens: 100,
	})
	require.Error(t, err)
	assert.Equal(t, KindRateLimit, KindOf(err))
}

func TestOpenAICostEstimation(t *testing.T) {
	provider := NewOpenAIProvider("dummy")

	tests := []struct {
		name         string
		model        string
		inputTokens  int
		outputTokens int
		wantPositive bool
	}{
		{"known model gpt-4o", "gpt-4o", 1000, 500, true},
		{"known model gpt-4o-mini", "gpt-4o-mini", 1000, 500, true},
		{"unknown model defaults", "gpt-new-model", 1000, 500, true},
		{"zero tokens", "gpt-4o", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost := provider.EstimateCost(tt.model, tt.inputTokens, tt.outputTokens)
			if tt.wantPositive {
				assert.Greater(t, cost, 0.0)
			} else {
				assert.Equal(t, 0.0, cost)
			}
		})
	}
}
