// Package scheduler drives the execution engine on a timetable. Tick bodies
// never return errors: every failure is logged and counted, and the next tick
// runs as usual.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/irrigation-engine/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

const (
	jobExecute = "execute"
	jobCleanup = "cleanup"
)

// Executor is the part of the execution engine the poller drives.
type Executor interface {
	ExecuteDue(ctx context.Context, now time.Time) (int, error)
	ArchiveCompleted(ctx context.Context, cutoff time.Time) (int, error)
}

// Options configures the poller's timetable.
type Options struct {
	PollInterval    time.Duration
	CleanupSchedule string
	RetentionWindow time.Duration
	TickTimeout     time.Duration
}

// Poller runs ExecuteDue every PollInterval and ArchiveCompleted on the
// cleanup schedule.
type Poller struct {
	exec    Executor
	clock   clockwork.Clock
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
}

// New creates a Poller.
func New(exec Executor, clock clockwork.Clock, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Poller {
	return &Poller{
		exec:    exec,
		clock:   clock,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once an execution tick has completed.
func (p *Poller) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("scheduler has not completed a tick yet")
	}
	return nil
}

// Run schedules both jobs and blocks until ctx is cancelled, then waits for
// running ticks to finish. It fails only when a schedule is invalid.
func (p *Poller) Run(ctx context.Context) error {
	logger := cronLogger{p.logger}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", p.opts.PollInterval), func() { p.PollOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule execute job: %w", err)
	}
	if _, err := c.AddFunc(p.opts.CleanupSchedule, func() { p.CleanupOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid CLEANUP_SCHEDULE %q: %w", p.opts.CleanupSchedule, err)
	}

	c.Start()
	p.logger.Info("scheduler started",
		"poll_interval", p.opts.PollInterval,
		"cleanup_schedule", p.opts.CleanupSchedule,
		"retention", p.opts.RetentionWindow,
	)

	<-ctx.Done()
	p.logger.Info("scheduler stopping", "reason", ctx.Err())
	<-c.Stop().Done()
	return nil
}

// PollOnce executes every due program.
func (p *Poller) PollOnce(ctx context.Context) {
	p.tick(ctx, jobExecute, func(ctx context.Context, now time.Time) error {
		n, err := p.exec.ExecuteDue(ctx, now)
		if err != nil {
			return err
		}
		p.logger.Debug("execution tick finished", "executed", n)
		return nil
	})
}

// CleanupOnce reports completed programs older than the retention window.
func (p *Poller) CleanupOnce(ctx context.Context) {
	p.tick(ctx, jobCleanup, func(ctx context.Context, now time.Time) error {
		cutoff := now.Add(-p.opts.RetentionWindow)
		n, err := p.exec.ArchiveCompleted(ctx, cutoff)
		if err != nil {
			return err
		}
		p.logger.Info("cleanup tick finished", "archivable", n, "cutoff", cutoff)
		return nil
	})
}

func (p *Poller) tick(ctx context.Context, job string, body func(context.Context, time.Time) error) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.TickFailures.WithLabelValues(job).Inc()
			p.logger.Error("scheduler tick panicked", "job", job, "panic", r)
		}
	}()

	if ctx.Err() != nil {
		return
	}
	if p.opts.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.TickTimeout)
		defer cancel()
	}

	now := p.clock.Now()
	if err := body(ctx, now); err != nil {
		p.metrics.TickFailures.WithLabelValues(job).Inc()
		p.logger.Error("scheduler tick failed", "job", job, "error", err)
		return
	}
	p.metrics.LastTick.WithLabelValues(job).Set(float64(now.Unix()))
	if job == jobExecute {
		p.ready.Store(true)
	}
}

// cronLogger routes cron's own messages through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
