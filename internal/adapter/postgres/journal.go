package postgres

import (
	"context"
	"fmt"

	"github.com/couchcryptid/irrigation-engine/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Journal appends to the journal_entries table.
type Journal struct {
	pool *pgxpool.Pool
}

func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

func (j *Journal) Record(ctx context.Context, entry domain.JournalEntry) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO journal_entries (program_id, executed_at, actual_volume, note)
		VALUES ($1, $2, $3, $4)`,
		entry.ProgramID, entry.ExecutedAt, entry.ActualVolume, entry.Note)
	if err != nil {
		return fmt.Errorf("record journal entry for program %d: %w", entry.ProgramID, err)
	}
	return nil
}

// ForProgram lists a program's journal in execution order.
func (j *Journal) ForProgram(ctx context.Context, programID int64) ([]domain.JournalEntry, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT program_id, executed_at, actual_volume::float8, note
		FROM journal_entries WHERE program_id = $1
		ORDER BY executed_at, id`, programID)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		if err := rows.Scan(&e.ProgramID, &e.ExecutedAt, &e.ActualVolume, &e.Note); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.ExecutedAt = e.ExecutedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
