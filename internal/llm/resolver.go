package llm

// NewProviderWithKey creates a fresh Provider for the named backend using
// the given API key. Returns nil for unknown providers.
func NewProviderWithKey(providerName, apiKey string) Provider {
	switch providerName {
	case "openai":
		return NewOpenAIProvider(apiKey)
	case "anthropic":
		return NewAnthropicProvider(apiKey)
	default:
		return nil
	}
}

// NewProviderWithBaseURL creates a Provider pointed at a custom endpoint.
// Used when the configured backend sits behind a proxy or in tests.
func NewProviderWithBaseURL(providerName, apiKey, baseURL string) Provider {
	if baseURL == "" {
		return NewProviderWithKey(providerName, apiKey)
	}
	switch providerName {
	case "openai":
		return NewOpenAIProviderWithBaseURL(apiKey, baseURL)
	case "anthropic":
		return NewAnthropicProviderWithBaseURL(apiKey, baseURL)
	default:
		return nil
	}
}
