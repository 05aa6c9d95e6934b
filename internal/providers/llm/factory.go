package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/core"
	"github.com/storyloom/storyloom/pkg/log"
)

// NewGenerator creates the configured script generation provider. The same
// provider doubles as the Summarizer.
func NewGenerator(ctx context.Context, cfg *config.LLMConfig) (*OpenAICompatible, error) {
	log.FromCtx(ctx).Info().
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Msg("starting llm provider")

	base := OpenAICompatibleConfig{
		APIKey:             cfg.APIKey,
		Model:              cfg.Model,
		AuthHeader:         "Authorization",
		AuthPrefix:         "Bearer ",
		Timeout:            time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxTokens:          cfg.MaxTokens,
		SummaryTemperature: cfg.SummaryTemperature,
	}

	switch cfg.Provider {
	case "openai":
		base.BaseURL = "https://api.openai.com"
	case "openrouter":
		base.BaseURL = "https://openrouter.ai/api"
		base.ExtraHeaders = map[string]string{
			"X-Title": core.AppName,
		}
	case "custom":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("custom llm provider requires LOOM_LLM_BASE_URL")
		}
		base.BaseURL = cfg.BaseURL
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}

	return NewOpenAICompatible(base), nil
}

// NewEmbedder creates the embedding provider, nil when embeddings are not
// configured. Callers treat nil as "semantic index unavailable".
func NewEmbedder(ctx context.Context, cfg *config.LLMConfig) *OpenAIEmbedder {
	if cfg.EmbeddingModel == "" {
		log.FromCtx(ctx).Info().Msg("embeddings disabled, semantic recall falls back to recent memory")
		return nil
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return NewOpenAIEmbedder(baseURL, cfg.APIKey, cfg.EmbeddingModel,
		time.Duration(cfg.TimeoutSeconds)*time.Second)
}
