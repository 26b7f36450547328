// Package execution advances due irrigation programs through their lifecycle
// and records what was delivered in the journal.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/irrigation-engine/internal/domain"
	"github.com/couchcryptid/irrigation-engine/internal/observability"
	"github.com/jonboulle/clockwork"
)

// recoveryTimeout bounds the release and cancel writes, which outlive the
// tick context.
const recoveryTimeout = 10 * time.Second

// Sampler yields uniform values in [0, 1). *rand.Rand satisfies it.
type Sampler interface {
	Float64() float64
}

type globalSampler struct{}

func (globalSampler) Float64() float64 { return rand.Float64() }

// Outcome is the result of a successful ExecuteOne call.
type Outcome int

const (
	// OutcomeCompleted means the program ran and was journaled.
	OutcomeCompleted Outcome = iota
	// OutcomeSkipped means another worker owned the program; nothing changed.
	OutcomeSkipped
)

func (o Outcome) String() string {
	if o == OutcomeCompleted {
		return "completed"
	}
	return "skipped"
}

// Engine runs due programs against a store and a journal.
type Engine struct {
	store   domain.ProgramStore
	journal domain.JournalSink
	clock   clockwork.Clock
	sampler Sampler
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewEngine creates an Engine. A nil sampler uses the global random source.
func NewEngine(store domain.ProgramStore, journal domain.JournalSink, clock clockwork.Clock, sampler Sampler, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if sampler == nil {
		sampler = globalSampler{}
	}
	return &Engine{
		store:   store,
		journal: journal,
		clock:   clock,
		sampler: sampler,
		logger:  logger,
		metrics: metrics,
	}
}

// ExecuteDue runs every scheduled program due at now and returns how many
// completed. A failing program is cancelled and journaled without stopping
// the batch. The only error returned is a failure to list due programs.
func (e *Engine) ExecuteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := e.store.FindDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find due programs: %w", err)
	}

	var executed, failed, conflicts int
	for _, p := range due {
		if ctx.Err() != nil {
			e.logger.Warn("execute due interrupted", "remaining", len(due)-executed-failed-conflicts, "reason", ctx.Err())
			break
		}

		outcome, err := e.ExecuteOne(ctx, p, now)
		switch {
		case err == nil:
			if outcome == OutcomeCompleted {
				executed++
			}
		case ctx.Err() != nil:
			e.logger.Warn("execute due interrupted, program left for next tick",
				"program_id", p.ID, "error", err)
		case errors.Is(err, domain.ErrConcurrentClaim):
			conflicts++
			e.metrics.Executions.WithLabelValues("conflict").Inc()
			e.logger.Warn("program claimed concurrently, retrying next tick",
				"program_id", p.ID, "error", err)
		default:
			failed++
			e.cancelFailed(ctx, p.ID, now, err)
		}
	}

	e.logger.Info("execute due finished",
		"due", len(due),
		"executed", executed,
		"failed", failed,
		"conflicts", conflicts,
	)
	return executed, nil
}

// ExecuteOne claims program and, when the claim succeeds, runs it and journals
// the delivered volume. A program that is no longer scheduled is left alone.
// Failures after the claim release the program back to scheduled and are
// returned as *domain.TransientExecutionError.
func (e *Engine) ExecuteOne(ctx context.Context, program domain.Program, now time.Time) (Outcome, error) {
	start := e.clock.Now()

	res, err := e.store.Claim(ctx, program.ID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("claim program %d: %w", program.ID, err)
	}

	switch res.Outcome {
	case domain.ClaimNotFound:
		return OutcomeSkipped, fmt.Errorf("claim program %d: %w", program.ID, domain.ErrProgramNotFound)
	case domain.ClaimSkipped:
		e.metrics.Executions.WithLabelValues("skipped").Inc()
		e.logger.Debug("program no longer scheduled, skipping",
			"program_id", program.ID, "status", res.Program.Status)
		return OutcomeSkipped, nil
	case domain.Claimed:
	}

	running := res.Program
	entry, err := e.run(ctx, running, now)
	if err != nil {
		e.release(ctx, running)
		e.metrics.Executions.WithLabelValues("released").Inc()
		return OutcomeSkipped, &domain.TransientExecutionError{ProgramID: running.ID, Err: err}
	}

	e.metrics.Executions.WithLabelValues("completed").Inc()
	e.metrics.WaterDelivered.Add(entry.ActualVolume)
	e.metrics.ExecutionDuration.Observe(e.clock.Since(start).Seconds())
	e.logger.Info("program executed",
		"program_id", running.ID,
		"plot", running.PlotName,
		"planned_volume", running.PlannedVolume,
		"actual_volume", entry.ActualVolume,
		"note", entry.Note,
	)
	return OutcomeCompleted, nil
}

// run journals the execution of a claimed program and completes it.
func (e *Engine) run(ctx context.Context, running domain.Program, now time.Time) (domain.JournalEntry, error) {
	actual := round2(running.PlannedVolume * (0.9 + 0.2*e.sampler.Float64()))
	entry := domain.JournalEntry{
		ProgramID:    running.ID,
		ExecutedAt:   now,
		ActualVolume: actual,
		Note:         executionNote(running.PlannedVolume, actual),
	}
	if err := e.journal.Record(ctx, entry); err != nil {
		return entry, fmt.Errorf("record journal entry: %w", err)
	}

	completed := running
	if err := completed.Transition(domain.Complete); err != nil {
		return entry, err
	}
	if err := e.store.Save(ctx, completed); err != nil {
		return entry, fmt.Errorf("save completed program: %w", err)
	}
	return entry, nil
}

// release hands a claimed program back to the scheduler. Best effort. It
// runs even when ctx is already cancelled so a program is never left running.
func (e *Engine) release(ctx context.Context, running domain.Program) {
	ctx, cancel := detach(ctx)
	defer cancel()

	released := running
	if err := released.Transition(domain.Release); err != nil {
		e.logger.Error("release program failed", "program_id", running.ID, "error", err)
		return
	}
	if err := e.store.Save(ctx, released); err != nil {
		e.logger.Error("release program failed", "program_id", running.ID, "error", err)
	}
}

// cancelFailed is the terminal failure path: the program is cancelled and a
// zero-volume journal entry records why. Errors here are only logged.
func (e *Engine) cancelFailed(ctx context.Context, id int64, now time.Time, cause error) {
	e.logger.Error("program execution failed, cancelling", "program_id", id, "error", cause)
	ctx, cancel := detach(ctx)
	defer cancel()

	var transient *domain.TransientExecutionError
	if errors.As(cause, &transient) {
		cause = transient.Err
	}

	current, err := e.store.FindByID(ctx, id)
	if err != nil {
		e.logger.Error("cancel failed program: reload", "program_id", id, "error", err)
		return
	}
	if err := current.Transition(domain.Cancel); err != nil {
		e.logger.Error("cancel failed program", "program_id", id, "error", err)
		return
	}
	if err := e.store.Save(ctx, current); err != nil {
		e.logger.Error("cancel failed program: save", "program_id", id, "error", err)
		return
	}
	e.metrics.Executions.WithLabelValues("cancelled").Inc()

	entry := domain.JournalEntry{
		ProgramID:    id,
		ExecutedAt:   now,
		ActualVolume: 0,
		Note:         "execution failed: " + cause.Error(),
	}
	if err := e.journal.Record(ctx, entry); err != nil {
		e.logger.Error("journal failed execution", "program_id", id, "error", err)
	}
}

// ArchiveCompleted counts completed programs scheduled before cutoff. It does
// not modify or remove them.
func (e *Engine) ArchiveCompleted(ctx context.Context, cutoff time.Time) (int, error) {
	programs, err := e.store.FindBefore(ctx, cutoff, domain.StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("find completed programs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	e.metrics.ArchivablePrograms.Set(float64(len(programs)))
	e.logger.Info("archivable programs counted", "count", len(programs), "cutoff", cutoff)
	return len(programs), nil
}

// detach keeps ctx values but not its cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recoveryTimeout)
}

// executionNote compares delivered and planned volume.
func executionNote(planned, actual float64) string {
	if planned == 0 {
		return "on target"
	}
	pct := (actual - planned) / planned * 100
	switch {
	case math.Abs(pct) < 2:
		return "on target"
	case pct > 0:
		return fmt.Sprintf("slightly above forecast (%.1f%%)", pct)
	default:
		return fmt.Sprintf("slightly below forecast (%.1f%%)", -pct)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
