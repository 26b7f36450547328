package main

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/irrigation-engine/internal/execution"
	"github.com/couchcryptid/irrigation-engine/internal/observability"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
)

func newExecuteDueCommand() *cli.Command {
	return &cli.Command{
		Name:  "execute-due",
		Usage: "Execute every scheduled program that is due, then exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "at",
				Usage: "reference time in RFC 3339 (defaults to now)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			clock := clockwork.NewRealClock()
			now := clock.Now()
			if at := cmd.String("at"); at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}

			b, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			engine := execution.NewEngine(b.store, b.journal, clock, nil, logger, observability.NewMetricsForTesting())
			n, err := engine.ExecuteDue(ctx, now)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.Root().Writer, "executed %d program(s) due by %s\n", n, now.UTC().Format(time.RFC3339))
			return err
		},
	}
}

func newArchiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "Count completed programs older than the retention window",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "retention",
				Usage:   "age after which completed programs are archivable",
				Value:   30 * 24 * time.Hour,
				Sources: cli.EnvVars("RETENTION_WINDOW"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			retention := cmd.Duration("retention")
			if retention <= 0 {
				return fmt.Errorf("invalid --retention %s: must be positive", retention)
			}

			b, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			clock := clockwork.NewRealClock()
			engine := execution.NewEngine(b.store, b.journal, clock, nil, logger, observability.NewMetricsForTesting())
			cutoff := clock.Now().Add(-retention)
			n, err := engine.ArchiveCompleted(ctx, cutoff)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.Root().Writer, "%d completed program(s) older than %s\n", n, cutoff.UTC().Format(time.RFC3339))
			return err
		},
	}
}
