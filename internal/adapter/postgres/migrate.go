package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// migrations maps schema versions to the DDL that reaches them.
var migrations = map[int]string{
	1: `
		CREATE TABLE IF NOT EXISTS programs (
			id               BIGSERIAL PRIMARY KEY,
			plot_id          BIGINT NOT NULL,
			plot_name        TEXT NOT NULL DEFAULT '',
			scheduled_at     TIMESTAMPTZ NOT NULL,
			duration_minutes INTEGER NOT NULL CHECK (duration_minutes >= 0),
			planned_volume   NUMERIC(10,2) NOT NULL CHECK (planned_volume >= 0),
			status           TEXT NOT NULL CHECK (status IN ('scheduled', 'running', 'completed', 'cancelled')),
			version          BIGINT NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS programs_status_scheduled_at_idx ON programs (status, scheduled_at);

		CREATE TABLE IF NOT EXISTS journal_entries (
			id            BIGSERIAL PRIMARY KEY,
			program_id    BIGINT NOT NULL REFERENCES programs (id),
			executed_at   TIMESTAMPTZ NOT NULL,
			actual_volume NUMERIC(10,2) NOT NULL,
			note          TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS journal_entries_program_id_idx ON journal_entries (program_id);
	`,
	2: `
		CREATE TABLE IF NOT EXISTS applied_adjustments (
			key        TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`,
}

// Migrate brings the schema up to the latest version. Each migration runs in
// its own transaction together with its schema_migrations row.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	var current int
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	versions := make([]int, 0, len(migrations))
	for v := range migrations {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	for _, v := range versions {
		if v <= current {
			continue
		}
		logger.InfoContext(ctx, "applying migration", "version", v)
		if err := applyMigration(ctx, pool, v, migrations[v]); err != nil {
			return err
		}
		current = v
	}
	logger.InfoContext(ctx, "database migrations completed", "version", current)
	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, version int, ddl string) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", version, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("execute migration %d: %w", version, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("record migration %d: %w", version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %d: %w", version, err)
	}
	return nil
}
