package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alexjbarnes/kanban-sync/internal/config"
	"github.com/alexjbarnes/kanban-sync/internal/logging"
	"github.com/spf13/cobra"
)

var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "kanban",
	Short:         "Offline-first kanban board with a sync server",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by every
// subcommand.
func setup(service string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogFile).With(slog.String("service", service))

	return cfg, logger, nil
}
