package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/storyloom/storyloom/pkg/log"
)

type LLMConfig struct {
	Provider string `env:"LOOM_LLM_PROVIDER" envDefault:"openai"`
	APIKey   string `env:"LOOM_LLM_API_KEY"`
	BaseURL  string `env:"LOOM_LLM_BASE_URL"`
	Model    string `env:"LOOM_LLM_MODEL" envDefault:"gpt-4o-mini"`

	EmbeddingModel string `env:"LOOM_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`

	MaxTokens      int     `env:"LOOM_LLM_MAX_TOKENS" envDefault:"2048"`
	Attempts       int     `env:"LOOM_LLM_ATTEMPTS" envDefault:"3"`
	TimeoutSeconds int     `env:"LOOM_LLM_TIMEOUT_SECONDS" envDefault:"60"`
	MinTemperature float64 `env:"LOOM_LLM_MIN_TEMPERATURE" envDefault:"0.3"`
	MaxTemperature float64 `env:"LOOM_LLM_MAX_TEMPERATURE" envDefault:"1.1"`

	// Summaries want determinism, not creativity
	SummaryTemperature float64 `env:"LOOM_LLM_SUMMARY_TEMPERATURE" envDefault:"0.3"`
}

func NewLLMConfig(ctx context.Context) *LLMConfig {
	c := &LLMConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse LLM config")
	}
	return c
}
