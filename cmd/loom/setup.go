package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/core"
	"github.com/storyloom/storyloom/internal/corpus"
	"github.com/storyloom/storyloom/internal/providers/llm"
	"github.com/storyloom/storyloom/internal/service/assembler"
	"github.com/storyloom/storyloom/internal/service/deviation"
	"github.com/storyloom/storyloom/internal/service/engine"
	"github.com/storyloom/storyloom/internal/service/memory"
	"github.com/storyloom/storyloom/internal/storage/session"
	"github.com/storyloom/storyloom/internal/storage/sqlite"
	"github.com/storyloom/storyloom/internal/storyline"
	"github.com/storyloom/storyloom/internal/transport/httpapi"
	"github.com/storyloom/storyloom/pkg/log"
	"github.com/storyloom/storyloom/pkg/srv"
)

func NewServices(ctx context.Context) []srv.Service {
	logger := log.FromCtx(ctx)
	services := make([]srv.Service, 0)

	// init env
	if err := initEnv(ctx, config.GetRuntimePath()); err != nil {
		logger.Fatal().Err(err).Msg("failed to init env")
	}

	// 1. Configuration
	appCfg := config.NewAppConfig(ctx)
	serverCfg := config.NewServerConfig(ctx)
	llmCfg := config.NewLLMConfig(ctx)
	memCfg := config.NewMemoryConfig(ctx)

	// 2. Source material, read-only and shared across sessions
	corpusStore, err := corpus.New(appCfg.GetCorpusPath())
	if err != nil {
		logger.Fatal().Err(err).Str("path", appCfg.GetCorpusPath()).Msg("failed to load corpus")
	}
	storylines, err := storyline.New(appCfg.GetStorylinesPath())
	if err != nil {
		logger.Fatal().Err(err).Str("path", appCfg.GetStorylinesPath()).Msg("failed to load storylines")
	}

	// 3. Session storage
	sessionStore, err := session.NewStore(appCfg.GetSessionsPath())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open session store")
	}

	// 4. Semantic turn index
	var turnIndex core.TurnIndexRepository
	db, err := sqlite.NewDB(ctx, appCfg.GetIndexPath())
	if err != nil {
		// The engine runs without the index; recall degrades to recent memory
		logger.Warn().Err(err).Msg("turn index unavailable")
	} else {
		turnIndex = sqlite.NewTurnIndexRepo(db)
		services = append(services, srv.NewCleanup(db.Close))
	}

	// 5. Providers
	generator, err := llm.NewGenerator(ctx, llmCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize LLM provider")
	}
	embedder := llm.NewEmbedder(ctx, llmCfg)

	// 6. Turn engine
	var memEmbedder core.Embedder
	if embedder != nil {
		memEmbedder = embedder
	}
	eng := engine.New(ctx, engine.Deps{
		App:       appCfg,
		LLM:       llmCfg,
		Assembler: assembler.New(corpusStore),
		Deviation: deviation.New(deviation.Policy{
			Baseline:       serverCfg.BaselineDeviation,
			LowBand:        0.05,
			HighBand:       0.30,
			LowClamp:       0.02,
			MidClamp:       0.05,
			GrowthDamping:  0.5,
			MinTemperature: llmCfg.MinTemperature,
			MaxTemperature: llmCfg.MaxTemperature,
		}),
		Memory:    memory.New(memCfg, generator, memEmbedder, turnIndex),
		Navigator: storylines,
		Generator: generator,
		Snapshots: sessionStore,
		Events:    sessionStore,
	})
	services = append(services, eng)

	// 7. Transport
	services = append(services, httpapi.NewServer(ctx, serverCfg, eng, config.IsDebug()))

	return services
}

func initEnv(ctx context.Context, runtimePath string) error {
	logger := log.FromCtx(ctx)
	envFile := filepath.Join(runtimePath, ".env")

	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warn().Err(err).Str("path", envFile).Msg("failed to load .env file")
		return err
	}

	logger.Debug().Str("path", envFile).Msg("loaded .env file")
	return nil
}
