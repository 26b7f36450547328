package main

import (
	"context"
	"fmt"
	"log/slog"

	httpadapter "github.com/couchcryptid/irrigation-engine/internal/adapter/http"
	"github.com/couchcryptid/irrigation-engine/internal/adapter/memory"
	"github.com/couchcryptid/irrigation-engine/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/irrigation-engine/internal/adapter/redis"
	"github.com/couchcryptid/irrigation-engine/internal/config"
	"github.com/couchcryptid/irrigation-engine/internal/domain"
	"github.com/couchcryptid/irrigation-engine/internal/rules"
	"github.com/jonboulle/clockwork"
)

const memoryLedgerEntries = 100_000

// backend bundles the stores selected by configuration.
type backend struct {
	store   domain.ProgramStore
	journal domain.JournalSink
	ledger  rules.Ledger
	checks  httpadapter.Checks
	closers []func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{checks: httpadapter.Checks{}}

	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory program store, state is lost on restart")
		b.store = memory.NewStore()
		b.journal = memory.NewJournal()
	default:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool, logger); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		store := postgres.NewStore(pool, logger)
		b.store = store
		b.journal = postgres.NewJournal(pool)
		b.checks["database"] = store
	}
	return b, nil
}

// openLedger picks the adjustment ledger. Redis is shared by every consumer
// and records keys right after the commit. Without Redis the Postgres store
// records them in the same transaction; the memory store pairs with a
// process-local LRU.
func (b *backend) openLedger(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) error {
	if cfg.RedisAddr == "" {
		if pg, ok := b.store.(*postgres.Store); ok {
			logger.Info("recording adjustments in postgres")
			b.ledger = pg
			return nil
		}
		logger.Info("using in-process adjustment ledger", "ttl", cfg.LedgerTTL)
		b.ledger = memory.NewLedger(memoryLedgerEntries, cfg.LedgerTTL, clock)
		return nil
	}

	client, err := redisadapter.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, func() {
		if err := client.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	})
	ledger := redisadapter.NewLedger(client, cfg.LedgerTTL)
	b.ledger = ledger
	b.checks["ledger"] = ledger
	return nil
}

// Close releases resources in reverse order of acquisition.
func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}
