package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-supervisor/internal/server"
)

// newServeCmd creates the 'serve' subcommand, the long-running supervisor.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP control plane and the worker supervisor",
		Long: `Starts the HTTP API, the status stream, the progress pipeline and,
when a cron spec is configured, the scheduled crawl runs. Stops the worker
and exits cleanly on SIGINT or SIGTERM.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	logger, err := server.NewLogger(cfg)
	if err != nil {
		return err
	}

	app, err := server.Build(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("application build failed", zap.Error(err))
		return fmt.Errorf("build application: %w", err)
	}
	if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run server: %w", err)
	}
	return nil
}
