// Package postgres implements the program store, journal sink and adjustment
// ledger on PostgreSQL. Claims run in SERIALIZABLE transactions; every write is
// checked against the row version.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/irrigation-engine/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const programColumns = `id, plot_id, plot_name, scheduled_at, duration_minutes, planned_volume::float8, status, version`

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Store is a domain.ProgramStore backed by the programs table.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a Store on an open pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Insert creates a program and returns it with its id and version.
func (s *Store) Insert(ctx context.Context, p domain.Program) (domain.Program, error) {
	if p.Status == "" {
		p.Status = domain.StatusScheduled
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO programs (plot_id, plot_name, scheduled_at, duration_minutes, planned_volume, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+programColumns,
		p.PlotID, p.PlotName, p.ScheduledAt, p.DurationMinutes, p.PlannedVolume, string(p.Status))
	out, err := scanProgram(row)
	if err != nil {
		return domain.Program{}, fmt.Errorf("insert program: %w", err)
	}
	return out, nil
}

func (s *Store) FindDue(ctx context.Context, now time.Time) ([]domain.Program, error) {
	return s.query(ctx, `
		SELECT `+programColumns+` FROM programs
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at, id`,
		string(domain.StatusScheduled), now)
}

func (s *Store) FindByID(ctx context.Context, id int64) (domain.Program, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+programColumns+` FROM programs WHERE id = $1`, id)
	p, err := scanProgram(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Program{}, fmt.Errorf("program %d: %w", id, domain.ErrProgramNotFound)
	}
	if err != nil {
		return domain.Program{}, fmt.Errorf("find program %d: %w", id, err)
	}
	return p, nil
}

func (s *Store) FindInWindow(ctx context.Context, start, end time.Time, status domain.Status) ([]domain.Program, error) {
	return s.query(ctx, `
		SELECT `+programColumns+` FROM programs
		WHERE status = $1 AND scheduled_at BETWEEN $2 AND $3
		ORDER BY scheduled_at, id`,
		string(status), start, end)
}

func (s *Store) FindBefore(ctx context.Context, cutoff time.Time, status domain.Status) ([]domain.Program, error) {
	return s.query(ctx, `
		SELECT `+programColumns+` FROM programs
		WHERE status = $1 AND scheduled_at < $2
		ORDER BY scheduled_at, id`,
		string(status), cutoff)
}

func (s *Store) Save(ctx context.Context, p domain.Program) error {
	return s.SaveAll(ctx, []domain.Program{p})
}

// SaveAll writes every program in one transaction. A stale version on any
// row rolls back the whole batch with ErrConcurrentClaim.
func (s *Store) SaveAll(ctx context.Context, ps []domain.Program) error {
	return s.save(ctx, ps, nil)
}

// SaveAdjusted writes programs and records keys as applied in the same
// transaction, so the adjustment ledger never runs ahead of the programs.
func (s *Store) SaveAdjusted(ctx context.Context, ps []domain.Program, keys []string) error {
	return s.save(ctx, ps, keys)
}

// Seen reports whether an adjustment key was committed.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	var seen bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM applied_adjustments WHERE key = $1)`, key).Scan(&seen); err != nil {
		return false, fmt.Errorf("check adjustment %s: %w", key, err)
	}
	return seen, nil
}

// Record marks keys as applied outside any program write.
func (s *Store) Record(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, insertKeys, keys); err != nil {
		return fmt.Errorf("record adjustments: %w", err)
	}
	return nil
}

const insertKeys = `
	INSERT INTO applied_adjustments (key)
	SELECT unnest($1::text[])
	ON CONFLICT (key) DO NOTHING`

func (s *Store) save(ctx context.Context, ps []domain.Program, keys []string) error {
	if len(ps) == 0 && len(keys) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range ps {
		if err := update(ctx, tx, p); err != nil {
			return err
		}
	}
	if len(keys) > 0 {
		if _, err := tx.Exec(ctx, insertKeys, keys); err != nil {
			return mapError(fmt.Errorf("record adjustments: %w", err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("commit save: %w", err))
	}
	return nil
}

// Claim re-reads the program under SERIALIZABLE isolation and moves it to
// running when it is still scheduled.
func (s *Store) Claim(ctx context.Context, id int64) (domain.ClaimResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+programColumns+` FROM programs WHERE id = $1 FOR UPDATE`, id)
	p, err := scanProgram(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ClaimResult{Outcome: domain.ClaimNotFound}, nil
	}
	if err != nil {
		return domain.ClaimResult{}, mapError(fmt.Errorf("read program %d: %w", id, err))
	}
	if p.Status != domain.StatusScheduled {
		return domain.ClaimResult{Outcome: domain.ClaimSkipped, Program: p}, nil
	}

	if err := p.Transition(domain.Claim); err != nil {
		return domain.ClaimResult{}, err
	}
	if err := update(ctx, tx, p); err != nil {
		return domain.ClaimResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.ClaimResult{}, mapError(fmt.Errorf("commit claim %d: %w", id, err))
	}
	p.Version++
	return domain.ClaimResult{Outcome: domain.Claimed, Program: p}, nil
}

// update writes p when its version matches and bumps the version.
func update(ctx context.Context, tx pgx.Tx, p domain.Program) error {
	tag, err := tx.Exec(ctx, `
		UPDATE programs
		SET plot_id = $3, plot_name = $4, scheduled_at = $5, duration_minutes = $6,
		    planned_volume = $7, status = $8, version = version + 1
		WHERE id = $1 AND version = $2`,
		p.ID, p.Version, p.PlotID, p.PlotName, p.ScheduledAt, p.DurationMinutes, p.PlannedVolume, string(p.Status))
	if err != nil {
		return mapError(fmt.Errorf("update program %d: %w", p.ID, err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM programs WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
		return mapError(fmt.Errorf("check program %d: %w", p.ID, err))
	}
	if !exists {
		return fmt.Errorf("program %d: %w", p.ID, domain.ErrProgramNotFound)
	}
	return fmt.Errorf("program %d version %d is stale: %w", p.ID, p.Version, domain.ErrConcurrentClaim)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]domain.Program, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query programs: %w", err)
	}
	defer rows.Close()

	var out []domain.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, fmt.Errorf("scan program: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query programs: %w", err)
	}
	return out, nil
}

func scanProgram(row pgx.Row) (domain.Program, error) {
	var (
		p      domain.Program
		status string
	)
	if err := row.Scan(&p.ID, &p.PlotID, &p.PlotName, &p.ScheduledAt, &p.DurationMinutes, &p.PlannedVolume, &status, &p.Version); err != nil {
		return domain.Program{}, err
	}
	parsed, err := domain.ParseStatus(status)
	if err != nil {
		return domain.Program{}, err
	}
	p.Status = parsed
	p.ScheduledAt = p.ScheduledAt.UTC()
	return p, nil
}

// mapError turns serialization failures and deadlocks into ErrConcurrentClaim.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("%w: %v", domain.ErrConcurrentClaim, err)
	default:
		return err
	}
}
