package llm

import (
	"context"
	"fmt"

	"fabula/internal/config"
	"fabula/internal/logging"
	"fabula/internal/types"
)

// NewClient creates an LLMClient from configuration.
func NewClient(ctx context.Context, cfg *config.Config) (types.LLMClient, error) {
	clientCfg := ClientConfig{
		APIKey:          cfg.LLM.APIKey,
		Model:           cfg.LLM.Model,
		BaseURL:         cfg.LLM.BaseURL,
		Timeout:         cfg.LLMTimeout(),
		MaxOutputTokens: cfg.LLM.MaxTokens,
	}

	switch cfg.LLM.Provider {
	case "gemini", "":
		logging.Boot("LLM provider: gemini (model=%s)", clientCfg.Model)
		return NewGeminiClient(ctx, clientCfg)
	case "openai":
		logging.Boot("LLM provider: openai (model=%s base_url=%s)", clientCfg.Model, clientCfg.BaseURL)
		return NewOpenAIClient(clientCfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.LLM.Provider)
	}
}
