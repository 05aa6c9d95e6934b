package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/storyloom/storyloom/pkg/log"
)

type ServerConfig struct {
	ListenAddr string `env:"LOOM_LISTEN_ADDR" envDefault:":8080"`

	// Baseline deviation assigned to new sessions
	BaselineDeviation float64 `env:"LOOM_BASELINE_DEVIATION" envDefault:"0.15"`
}

func NewServerConfig(ctx context.Context) *ServerConfig {
	c := &ServerConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Server config")
	}
	return c
}
