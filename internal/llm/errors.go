package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a provider failure so callers can branch on structure
// instead of matching message strings.
type ErrorKind string

const (
	KindAuth        ErrorKind = "AUTH"
	KindRateLimit   ErrorKind = "RATE_LIMIT"
	KindValidation  ErrorKind = "VALIDATION"
	KindTimeout     ErrorKind = "TIMEOUT"
	KindUnavailable ErrorKind = "UNAVAILABLE"
	KindUnknown     ErrorKind = "UNKNOWN"
)

// ProviderError wraps a provider failure with its structured kind. The kind
// is set from the provider's own error surface (HTTP status, API error type)
// wherever possible.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KindOf returns the structured kind of err, classifying by message substring
// only as a last resort for truly unstructured upstream text.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return kindFromText(err.Error())
}

// kindFromText is the unstructured fallback classifier.
func kindFromText(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "api key"), strings.Contains(lower, "forbidden"):
		return KindAuth
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "429"), strings.Contains(lower, "quota"):
		return KindRateLimit
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "validation"):
		return KindValidation
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline"):
		return KindTimeout
	case strings.Contains(lower, "unavailable"), strings.Contains(lower, "connection refused"):
		return KindUnavailable
	default:
		return KindUnknown
	}
}

// kindFromStatus maps an HTTP status to a structured kind.
func kindFromStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimit
	case status == 400 || status == 422:
		return KindValidation
	case status == 408 || status == 504:
		return KindTimeout
	case status >= 500:
		return KindUnavailable
	default:
		return KindUnknown
	}
}
