//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/irrigation-engine/internal/domain"
	"github.com/couchcryptid/irrigation-engine/internal/observability"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var base = time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("irrigation_test"),
		postgres.WithUsername("irrigation"),
		postgres.WithPassword("irrigation"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool, observability.DiscardLogger()))
	// Running twice must be a no-op.
	require.NoError(t, Migrate(ctx, pool, observability.DiscardLogger()))
	return pool
}

func TestStore(t *testing.T) {
	pool := setupPool(t)
	store := NewStore(pool, observability.DiscardLogger())
	journal := NewJournal(pool)
	ctx := context.Background()

	insert := func(offset time.Duration, status domain.Status) domain.Program {
		p, err := store.Insert(ctx, domain.Program{
			PlotID:          1,
			PlotName:        "north-field",
			ScheduledAt:     base.Add(offset),
			DurationMinutes: 30,
			PlannedVolume:   25.5,
			Status:          status,
		})
		require.NoError(t, err)
		return p
	}

	t.Run("find queries", func(t *testing.T) {
		due := insert(-time.Hour, domain.StatusScheduled)
		insert(time.Hour, domain.StatusScheduled)
		old := insert(-40*24*time.Hour, domain.StatusCompleted)

		got, err := store.FindDue(ctx, base)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, due, got[0])

		window, err := store.FindInWindow(ctx, base.Add(-2*time.Hour), base.Add(2*time.Hour), domain.StatusScheduled)
		require.NoError(t, err)
		assert.Len(t, window, 2)

		before, err := store.FindBefore(ctx, base.AddDate(0, 0, -30), domain.StatusCompleted)
		require.NoError(t, err)
		require.Len(t, before, 1)
		assert.Equal(t, old.ID, before[0].ID)

		_, err = store.FindByID(ctx, 999999)
		assert.ErrorIs(t, err, domain.ErrProgramNotFound)
	})

	t.Run("claim once", func(t *testing.T) {
		p := insert(-time.Minute, domain.StatusScheduled)

		res, err := store.Claim(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Claimed, res.Outcome)
		assert.Equal(t, domain.StatusRunning, res.Program.Status)
		assert.Equal(t, p.Version+1, res.Program.Version)

		again, err := store.Claim(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimSkipped, again.Outcome)

		missing, err := store.Claim(ctx, 999999)
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimNotFound, missing.Outcome)
	})

	t.Run("concurrent claims run at most once", func(t *testing.T) {
		p := insert(-time.Minute, domain.StatusScheduled)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			claimed int
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := store.Claim(ctx, p.ID)
				if err != nil {
					assert.ErrorIs(t, err, domain.ErrConcurrentClaim)
					return
				}
				if res.Outcome == domain.Claimed {
					mu.Lock()
					claimed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, claimed)
	})

	t.Run("stale version rejected", func(t *testing.T) {
		p := insert(time.Hour, domain.StatusScheduled)

		fresh := p
		fresh.PlannedVolume = 12.25
		require.NoError(t, store.Save(ctx, fresh))

		stale := p
		stale.DurationMinutes = 99
		err := store.Save(ctx, stale)
		require.ErrorIs(t, err, domain.ErrConcurrentClaim)

		got, err := store.FindByID(ctx, p.ID)
		require.NoError(t, err)
		assert.InDelta(t, 12.25, got.PlannedVolume, 0)
		assert.Equal(t, 30, got.DurationMinutes)
		assert.Equal(t, p.Version+1, got.Version)
	})

	t.Run("save all is atomic", func(t *testing.T) {
		a := insert(2*time.Hour, domain.StatusScheduled)
		b := insert(3*time.Hour, domain.StatusScheduled)

		a.PlannedVolume = 1
		b.Version = 42
		err := store.SaveAll(ctx, []domain.Program{a, b})
		require.True(t, errors.Is(err, domain.ErrConcurrentClaim))

		got, err := store.FindByID(ctx, a.ID)
		require.NoError(t, err)
		assert.InDelta(t, 25.5, got.PlannedVolume, 0)
	})

	t.Run("adjusted programs and keys commit together", func(t *testing.T) {
		a := insert(4*time.Hour, domain.StatusScheduled)
		b := insert(5*time.Hour, domain.StatusScheduled)

		seen, err := store.Seen(ctx, "adjustment:7:a")
		require.NoError(t, err)
		assert.False(t, seen)

		a.PlannedVolume = 12.75
		b.Version = 42
		err = store.SaveAdjusted(ctx, []domain.Program{a, b}, []string{"adjustment:7:a", "adjustment:7:b"})
		require.ErrorIs(t, err, domain.ErrConcurrentClaim)

		seen, err = store.Seen(ctx, "adjustment:7:a")
		require.NoError(t, err)
		assert.False(t, seen, "rolled back batch must not record its keys")

		require.NoError(t, store.SaveAdjusted(ctx, []domain.Program{a}, []string{"adjustment:7:a"}))
		seen, err = store.Seen(ctx, "adjustment:7:a")
		require.NoError(t, err)
		assert.True(t, seen)
		got, err := store.FindByID(ctx, a.ID)
		require.NoError(t, err)
		assert.InDelta(t, 12.75, got.PlannedVolume, 0)

		require.NoError(t, store.Record(ctx, []string{"adjustment:7:a", "adjustment:7:c"}))
		seen, err = store.Seen(ctx, "adjustment:7:c")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("journal", func(t *testing.T) {
		p := insert(-time.Minute, domain.StatusScheduled)
		entry := domain.JournalEntry{ProgramID: p.ID, ExecutedAt: base, ActualVolume: 24.87, Note: "on target"}
		require.NoError(t, journal.Record(ctx, entry))

		entries, err := journal.ForProgram(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, entry, entries[0])
	})
}
