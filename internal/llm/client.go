// Package llm provides model-invocation clients behind the types.LLMClient
// interface. Two providers are supported: Google Gemini through the official
// SDK, and any OpenAI-compatible chat completion endpoint.
package llm

import (
	"errors"
	"time"
)

// Sentinel errors callers can match with errors.Is.
var (
	ErrNoAPIKey        = errors.New("llm: API key not configured")
	ErrEmptyResponse   = errors.New("llm: model returned no content")
	ErrUnknownProvider = errors.New("llm: unknown provider")
)

// ClientConfig holds provider-independent client settings.
type ClientConfig struct {
	APIKey          string
	Model           string
	BaseURL         string
	Timeout         time.Duration
	MaxOutputTokens int
}

// withDefaults fills zero values with workable defaults.
func (c ClientConfig) withDefaults(model, baseURL string) ClientConfig {
	if c.Model == "" {
		c.Model = model
	}
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 8192
	}
	return c
}
