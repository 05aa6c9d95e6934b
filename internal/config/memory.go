package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/storyloom/storyloom/pkg/log"
)

type MemoryConfig struct {
	// Short-term window size; events beyond it get compacted into the summary
	RecentSize int `env:"LOOM_MEMORY_RECENT_SIZE" envDefault:"20"`

	// How many events each compaction folds into the summary
	CompactBatch int `env:"LOOM_MEMORY_COMPACT_BATCH" envDefault:"3"`

	// Summary character budget; overruns trigger recompression, never truncation
	SummaryBudget int `env:"LOOM_MEMORY_SUMMARY_BUDGET" envDefault:"2000"`

	// How many indexed turns a semantic lookup returns by default
	SearchLimit int `env:"LOOM_MEMORY_SEARCH_LIMIT" envDefault:"5"`
}

func NewMemoryConfig(ctx context.Context) *MemoryConfig {
	c := &MemoryConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Memory config")
	}
	return c
}
