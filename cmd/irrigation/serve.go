package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	httpadapter "github.com/couchcryptid/irrigation-engine/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/irrigation-engine/internal/adapter/kafka"
	"github.com/couchcryptid/irrigation-engine/internal/config"
	"github.com/couchcryptid/irrigation-engine/internal/execution"
	"github.com/couchcryptid/irrigation-engine/internal/ingest"
	"github.com/couchcryptid/irrigation-engine/internal/observability"
	"github.com/couchcryptid/irrigation-engine/internal/rules"
	"github.com/couchcryptid/irrigation-engine/internal/scheduler"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
)

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduler, the weather event consumer and the ops HTTP server",
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.openLedger(ctx, cfg, clock, logger); err != nil {
		return err
	}

	engine := execution.NewEngine(b.store, b.journal, clock, nil, logger, metrics)
	poller := scheduler.New(engine, clock, scheduler.Options{
		PollInterval:    cfg.PollInterval,
		CleanupSchedule: cfg.CleanupSchedule,
		RetentionWindow: cfg.RetentionWindow,
		TickTimeout:     cfg.TickTimeout,
	}, logger, metrics)

	reader := kafkaadapter.NewReader(cfg, logger)
	var (
		dlq       ingest.DeadLetterSink
		dlqWriter *kafkaadapter.DeadLetterWriter
	)
	if cfg.KafkaDLQTopic != "" {
		dlqWriter = kafkaadapter.NewDeadLetterWriter(cfg, logger)
		dlq = dlqWriter
	} else {
		logger.Warn("no dead-letter topic configured, failing events block their partition until applied")
	}
	consumer := ingest.NewConsumer(reader, rules.NewEngine(b.store, b.ledger, logger, metrics), dlq,
		ingest.Options{MaxAttempts: cfg.IngestMaxAttempts}, logger, metrics)

	b.checks["activity"] = httpadapter.CheckFunc(func(ctx context.Context) error {
		if err := poller.CheckReadiness(ctx); err == nil {
			return nil
		}
		return consumer.CheckReadiness(ctx)
	})
	srv := httpadapter.NewServer(cfg.HTTPAddr, b.checks, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	var (
		wg     sync.WaitGroup
		runErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := poller.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
			runErr = err
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil {
			logger.Error("consumer error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	wg.Wait()
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if dlqWriter != nil {
		if err := dlqWriter.Close(); err != nil {
			logger.Error("kafka dead-letter writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}
