// Package rules mutates pending irrigation programs in response to weather
// change events. Each severity tier owns an ordered rule table; a program is
// adjusted by at most one rule per event.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/irrigation-engine/internal/domain"
	"github.com/couchcryptid/irrigation-engine/internal/observability"
)

// Programs scheduled in [date-windowBefore, date+windowAfter] are affected.
const (
	windowBefore = 12 * time.Hour
	windowAfter  = 36 * time.Hour
)

// Ledger remembers which (event, program) pairs were already applied. Keys
// are recorded only once the adjusted programs are committed, so a crash
// before the commit leaves the event free to be applied on redelivery.
type Ledger interface {
	Seen(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, keys []string) error
}

// TransactionalLedger commits adjusted programs together with their keys.
// When the ledger implements it, Apply uses it instead of the program store.
type TransactionalLedger interface {
	Ledger
	SaveAdjusted(ctx context.Context, programs []domain.Program, keys []string) error
}

// Adjustment records one program mutated by a rule.
type Adjustment struct {
	ProgramID int64
	Rule      string
	Before    domain.Program
	After     domain.Program
}

// Report summarizes one Apply call.
type Report struct {
	Severity   domain.Severity
	Candidates int
	Adjusted   []Adjustment
	Replayed   int
}

// Engine applies tier tables to the programs affected by an event.
type Engine struct {
	store   domain.ProgramStore
	ledger  Ledger
	tables  map[domain.Severity]Table
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewEngine creates an Engine with the default rule tables.
func NewEngine(store domain.ProgramStore, ledger Ledger, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:   store,
		ledger:  ledger,
		tables:  DefaultTables(),
		logger:  logger,
		metrics: metrics,
	}
}

// Window returns the scheduling window affected by event.
func Window(event domain.WeatherChangeEvent) (start, end time.Time) {
	date := event.EffectiveDate()
	return date.Add(-windowBefore), date.Add(windowAfter)
}

// Apply adjusts every scheduled program in the event's window according to
// the event's severity and persists the mutated programs as one batch.
// Low severity events are a no-op.
func (e *Engine) Apply(ctx context.Context, event domain.WeatherChangeEvent) (Report, error) {
	report := Report{Severity: event.Severity}
	table, ok := e.tables[event.Severity]
	if !ok {
		return report, nil
	}

	start, end := Window(event)
	programs, err := e.store.FindInWindow(ctx, start, end, domain.StatusScheduled)
	if err != nil {
		return report, fmt.Errorf("find programs in window: %w", err)
	}
	report.Candidates = len(programs)

	change := Change{Old: conditions(event.Old), New: conditions(event.New)}
	var (
		mutated []domain.Program
		keys    []string
	)
	for _, p := range programs {
		rule, ok := table.Find(change)
		if !ok {
			continue
		}
		after := p
		if err := rule.Adjust(&after, change); err != nil {
			e.logger.Warn("rule rejected program",
				"program_id", p.ID, "rule", rule.Name, "error", err)
			continue
		}
		if after == p {
			continue
		}

		key := dedupKey(event, p.ID)
		seen, err := e.ledger.Seen(ctx, key)
		if err != nil {
			return report, fmt.Errorf("check adjustment %s: %w", key, err)
		}
		if seen {
			report.Replayed++
			e.logger.Info("adjustment already applied, skipping",
				"program_id", p.ID, "station_id", event.StationID, "rule", rule.Name)
			continue
		}
		keys = append(keys, key)
		mutated = append(mutated, after)
		report.Adjusted = append(report.Adjusted, Adjustment{
			ProgramID: p.ID,
			Rule:      rule.Name,
			Before:    p,
			After:     after,
		})
	}

	if len(mutated) == 0 {
		return report, nil
	}

	if err := e.persist(ctx, mutated, keys); err != nil {
		report.Adjusted = nil
		return report, fmt.Errorf("save %d adjusted programs: %w", len(mutated), err)
	}

	for _, a := range report.Adjusted {
		e.metrics.Adjustments.WithLabelValues(event.Severity.String(), a.Rule).Inc()
		e.logger.Info("program adjusted",
			"program_id", a.ProgramID,
			"plot", a.After.PlotName,
			"station_id", event.StationID,
			"severity", event.Severity.String(),
			"rule", a.Rule,
			"status", a.After.Status,
			"volume_before", a.Before.PlannedVolume,
			"volume_after", a.After.PlannedVolume,
			"duration_before", a.Before.DurationMinutes,
			"duration_after", a.After.DurationMinutes,
		)
	}
	return report, nil
}

// persist commits the adjusted programs, then records their keys. A failed
// Record after a successful commit is only logged: the offset is committed
// next, so the event is not redelivered.
func (e *Engine) persist(ctx context.Context, programs []domain.Program, keys []string) error {
	if tl, ok := e.ledger.(TransactionalLedger); ok {
		return tl.SaveAdjusted(ctx, programs, keys)
	}
	if err := e.store.SaveAll(ctx, programs); err != nil {
		return err
	}
	if err := e.ledger.Record(ctx, keys); err != nil {
		e.logger.Warn("record adjustment keys failed", "keys", len(keys), "error", err)
	}
	return nil
}

// dedupKey identifies one event applied to one program.
func dedupKey(event domain.WeatherChangeEvent, programID int64) string {
	return fmt.Sprintf("adjustment:%d:%s:%d",
		event.StationID, event.Timestamp.UTC().Format(time.RFC3339Nano), programID)
}

func conditions(c *domain.WeatherConditions) domain.WeatherConditions {
	if c == nil {
		return domain.WeatherConditions{}
	}
	return *c
}
