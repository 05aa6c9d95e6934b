package config

import (
	"context"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/storyloom/storyloom/pkg/log"
)

type AppConfig struct {
	RuntimePath string `env:"LOOM_RUNTIME_PATH" envDefault:".storyloom"`

	// Source material
	CorpusPath     string `env:"LOOM_CORPUS_PATH" envDefault:""`
	StorylinesPath string `env:"LOOM_STORYLINES_PATH" envDefault:""`

	// Default protagonist when a session does not name one
	DefaultProtagonist string `env:"LOOM_DEFAULT_PROTAGONIST" envDefault:"char_001"`

	// Sessions idle longer than this have their in-memory handle reaped
	SessionIdleMinutes int `env:"LOOM_SESSION_IDLE_MINUTES" envDefault:"30"`
}

func NewAppConfig(ctx context.Context) *AppConfig {
	c := &AppConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse App config")
	}
	return c
}

func (c AppConfig) GetRuntimePath() string {
	return c.RuntimePath
}

func (c AppConfig) GetCorpusPath() string {
	if c.CorpusPath != "" {
		return c.CorpusPath
	}
	return filepath.Join(c.RuntimePath, "article_data.json")
}

func (c AppConfig) GetStorylinesPath() string {
	if c.StorylinesPath != "" {
		return c.StorylinesPath
	}
	return filepath.Join(c.RuntimePath, "storylines_data.json")
}

func (c AppConfig) GetSessionsPath() string {
	return filepath.Join(c.RuntimePath, "sessions")
}

func (c AppConfig) GetIndexPath() string {
	return filepath.Join(c.RuntimePath, "storyloom.db")
}
