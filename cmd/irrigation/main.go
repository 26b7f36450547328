package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/couchcryptid/irrigation-engine/internal/config"
	"github.com/couchcryptid/irrigation-engine/internal/observability"
	cli "github.com/urfave/cli/v3"
)

func main() {
	root := &cli.Command{
		Name:  "irrigation-engine",
		Usage: "Schedule, execute and weather-adjust irrigation programs",
		Commands: []*cli.Command{
			newServeCommand(),
			newExecuteDueCommand(),
			newArchiveCommand(),
			newClassifyCommand(),
		},
		DefaultCommand: "serve",
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and installs the service logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, observability.NewLogger(cfg), nil
}
