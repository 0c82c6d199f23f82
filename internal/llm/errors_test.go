package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_StructuredError(t *testing.T) {
	err := &ProviderError{Provider: "openai", Kind: KindRateLimit, Status: 429, Err: errors.New("slow down")}
	assert.Equal(t, KindRateLimit, KindOf(err))

	wrapped := fmt.Errorf("calling provider: %w", err)
	assert.Equal(t, KindRateLimit, KindOf(wrapped))
}

func TestKindOf_ContextDeadline(t *testing.T) {
	err := fmt.Errorf("generate: %w", context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestKindOf_TextFallback(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorKind
	}{
		{"invalid api key provided", KindAuth},
		{"401 unauthorized", KindAuth},
		{"rate limit exceeded, retry later", KindRateLimit},
		{"429 too many requests", KindRateLimit},
		{"invalid request: missing model", KindValidation},
		{"request timeout after 60s", KindTimeout},
		{"service unavailable", KindUnavailable},
		{"connection refused", KindUnavailable},
		{"something inexplicable happened", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(errors.New(tt.msg)))
		})
	}
}

func TestKindFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{401, KindAuth},
		{403, KindAuth},
		{429, KindRateLimit},
		{400, KindValidation},
		{408, KindTimeout},
		{500, KindUnavailable},
		{503, KindUnavailable},
		{418, KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, kindFromStatus(tt.status), "status %d", tt.status)
	}
}
