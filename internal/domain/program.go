package domain

import (
	"context"
	"fmt"
	"time"
)

// Status is the lifecycle state of an irrigation program.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Transition names an event that moves a program between states.
type Transition string

const (
	// Claim takes exclusive ownership of a due program.
	Claim Transition = "claim"
	// Complete marks a claimed program as executed.
	Complete Transition = "complete"
	// Release hands a claimed program back to the scheduler for retry.
	Release Transition = "release"
	// Cancel terminates a program that has not completed.
	Cancel Transition = "cancel"
)

// ParseStatus maps a stored status string onto the closed set of states.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusScheduled, StatusRunning, StatusCompleted, StatusCancelled:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown program status %q", s)
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Apply returns the state reached by t from s, or ErrIllegalTransition.
func (s Status) Apply(t Transition) (Status, error) {
	switch s {
	case StatusScheduled:
		switch t {
		case Claim:
			return StatusRunning, nil
		case Cancel:
			return StatusCancelled, nil
		case Complete, Release:
		}
	case StatusRunning:
		switch t {
		case Complete:
			return StatusCompleted, nil
		case Release:
			return StatusScheduled, nil
		case Cancel:
			return StatusCancelled, nil
		case Claim:
		}
	case StatusCompleted, StatusCancelled:
	}
	return s, fmt.Errorf("%w: %s from %s", ErrIllegalTransition, t, s)
}

// Program is a planned irrigation action for a plot.
type Program struct {
	ID              int64
	PlotID          int64
	PlotName        string
	ScheduledAt     time.Time
	DurationMinutes int
	PlannedVolume   float64 // cubic meters
	Status          Status

	// Version is the optimistic concurrency token. Stores reject writes whose
	// Version does not match the persisted row and bump it on success.
	Version int64
}

// Transition moves p to the state reached by t.
func (p *Program) Transition(t Transition) error {
	next, err := p.Status.Apply(t)
	if err != nil {
		return fmt.Errorf("program %d: %w", p.ID, err)
	}
	p.Status = next
	return nil
}

// ScaleVolume multiplies the planned volume by factor, clamped at zero.
func (p *Program) ScaleVolume(factor float64) {
	p.PlannedVolume = max(0, p.PlannedVolume*factor)
}

// ScaleDuration multiplies the duration by factor, truncated to whole minutes
// and clamped at zero.
func (p *Program) ScaleDuration(factor float64) {
	p.DurationMinutes = max(0, int(float64(p.DurationMinutes)*factor))
}

// JournalEntry is the immutable record of one execution attempt.
type JournalEntry struct {
	ProgramID    int64
	ExecutedAt   time.Time
	ActualVolume float64
	Note         string
}

// ClaimOutcome distinguishes the results of a claim attempt.
type ClaimOutcome int

const (
	// Claimed means the program moved scheduled -> running for this caller.
	Claimed ClaimOutcome = iota
	// ClaimSkipped means the program was no longer scheduled.
	ClaimSkipped
	// ClaimNotFound means no program exists with the requested id.
	ClaimNotFound
)

func (o ClaimOutcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case ClaimSkipped:
		return "skipped"
	case ClaimNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// ClaimResult carries the freshly read program alongside the outcome.
// Program is the running program when Outcome is Claimed and the observed
// state when it is ClaimSkipped.
type ClaimResult struct {
	Outcome ClaimOutcome
	Program Program
}

// ProgramStore is the durable record of programs.
type ProgramStore interface {
	// FindDue returns scheduled programs whose time is at or before now.
	FindDue(ctx context.Context, now time.Time) ([]Program, error)
	// FindByID returns ErrProgramNotFound when the id is unknown.
	FindByID(ctx context.Context, id int64) (Program, error)
	// Save persists p when its Version still matches, otherwise ErrConcurrentClaim.
	Save(ctx context.Context, p Program) error
	// SaveAll persists all programs atomically under the same version check.
	SaveAll(ctx context.Context, ps []Program) error
	// FindInWindow returns programs with the given status scheduled in [start, end].
	FindInWindow(ctx context.Context, start, end time.Time, status Status) ([]Program, error)
	// FindBefore returns programs with the given status scheduled before cutoff.
	FindBefore(ctx context.Context, cutoff time.Time, status Status) ([]Program, error)
	// Claim re-reads the program under the strongest available isolation and
	// moves it scheduled -> running when it is still scheduled.
	Claim(ctx context.Context, id int64) (ClaimResult, error)
}

// JournalSink is the append-only record of execution outcomes.
type JournalSink interface {
	Record(ctx context.Context, entry JournalEntry) error
}
