package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-io/vantage/internal/testutil"
)

// End-to-end resolution: provider name + base URL override must reach the
// mock endpoint and surface content and usage unchanged.

func TestResolvedOpenAIProvider_RoundTrip(t *testing.T) {
	server := testutil.NewOpenAICompatibleServer(`{"decision_type":"NO_ACTION_RECOMMENDED"}`, 42, 7)
	t.Cleanup(server.Close)

	p := NewProviderWithBaseURL("openai", "test-key", server.URL)
	require.NotNil(t, p)
	assert.Equal(t, "openai", p.Name())

	resp, err := p.Generate(context.Background(), &Request{
		Model:     "gpt-4o",
		Prompt:    "assess the account",
		MaxTokens: 256,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"decision_type":"NO_ACTION_RECOMMENDED"}`, resp.Content)
	assert.Equal(t, 42, resp.InputTokens)
	assert.Equal(t, 7, resp.OutputTokens)
}

func TestResolvedAnthropicProvider_RoundTrip(t *testing.T) {
	server := testutil.NewAnthropicCompatibleServer(`{"decision_type":"NO_ACTION_RECOMMENDED"}`, 42, 7)
	t.Cleanup(server.Close)

	p := NewProviderWithBaseURL("anthropic", "test-key", server.URL)
	require.NotNil(t, p)
	assert.Equal(t, "anthropic", p.Name())

	resp, err := p.Generate(context.Background(), &Request{
		Model:     "claude-sonnet-4-20250514",
		Prompt:    "assess the account",
		MaxTokens: 256,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"decision_type":"NO_ACTION_RECOMMENDED"}`, resp.Content)
	assert.Equal(t, 42, resp.InputTokens)
	assert.Equal(t, 7, resp.OutputTokens)
}
