package main

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/storyloom/storyloom/pkg/log"
	"github.com/storyloom/storyloom/pkg/srv"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the StoryLoom API server",
	Long:  `Loads the corpus and storyline data, opens session storage, and serves the game API until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		// logger setup
		var flushLog func()
		ctx, flushLog = setupLogger(ctx)
		defer flushLog()

		logger := log.FromCtx(ctx)
		logger.Info().Msg("starting storyloom")

		services := NewServices(ctx)

		srv.StartServices(ctx, services)

		// Wait for shutdown signal
		srv.ShutdownServices(ctx, services)
		logger.Info().Msg("storyloom has been shut down gracefully")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
