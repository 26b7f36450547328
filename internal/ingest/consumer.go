// Package ingest consumes weather change events and feeds them to the rule
// engine. An offset is committed only after its event was applied, dropped as
// Low severity, or dead-lettered.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchcryptid/irrigation-engine/internal/domain"
	"github.com/couchcryptid/irrigation-engine/internal/observability"
	"github.com/couchcryptid/irrigation-engine/internal/rules"
	"github.com/couchcryptid/storm-data-shared/retry"
)

// Source reads one message at a time from the weather topic.
type Source interface {
	FetchEvent(ctx context.Context) (domain.RawEvent, error)
}

// Applier applies a classified event to the affected programs.
type Applier interface {
	Apply(ctx context.Context, event domain.WeatherChangeEvent) (rules.Report, error)
}

// DeadLetterSink parks messages that can never be applied.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, raw domain.RawEvent, cause error, attempts int) error
}

// Options tunes the apply retry policy.
type Options struct {
	// MaxAttempts bounds apply attempts before a message is dead-lettered.
	// Without a dead-letter sink the consumer retries until the context ends.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Consumer runs the fetch, classify, apply, commit loop.
type Consumer struct {
	source  Source
	applier Applier
	dlq     DeadLetterSink
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
}

// NewConsumer creates a Consumer. dlq may be nil.
func NewConsumer(source Source, applier Applier, dlq DeadLetterSink, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Consumer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 5 * time.Second
	}
	return &Consumer{
		source:  source,
		applier: applier,
		dlq:     dlq,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once at least one message has been handled.
func (c *Consumer) CheckReadiness(_ context.Context) error {
	if !c.ready.Load() {
		return errors.New("consumer has not processed any messages yet")
	}
	return nil
}

// Run consumes until ctx is cancelled. Individual message failures never end
// the loop.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("weather event consumer started", "max_attempts", c.opts.MaxAttempts, "dead_letter", c.dlq != nil)
	c.metrics.IngestRunning.Set(1)
	defer c.metrics.IngestRunning.Set(0)

	// Fetch errors back off from 200ms, doubling up to 5s.
	fetchBackoff := 200 * time.Millisecond
	maxFetchBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("weather event consumer stopping", "reason", ctx.Err())
			return nil
		default:
		}

		raw, err := c.source.FetchEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("fetch weather event failed", "error", err)
			if !retry.SleepWithContext(ctx, fetchBackoff) {
				return nil
			}
			fetchBackoff = retry.NextBackoff(fetchBackoff, maxFetchBackoff)
			continue
		}
		fetchBackoff = 200 * time.Millisecond

		if !c.Handle(ctx, raw) {
			return nil
		}
	}
}

// Handle processes one message end to end. It returns false when ctx ended
// before the message could be settled; the offset is then left uncommitted.
func (c *Consumer) Handle(ctx context.Context, raw domain.RawEvent) bool {
	c.metrics.EventsConsumed.Inc()
	log := c.logger.With("topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)

	event, err := domain.ParseWeatherEvent(raw)
	if err != nil {
		log.Warn("invalid weather event", "error", err)
		if c.dlq == nil {
			c.settle(ctx, raw, "invalid")
			return true
		}
		return c.deadLetter(ctx, log, raw, err, 1, "invalid")
	}

	producerSeverity := event.Severity
	event, disagreed := domain.Reclassify(event)
	log = log.With("station_id", event.StationID, "severity", event.Severity.String())
	if disagreed {
		log.Info("producer severity differs from recomputed tier", "producer_severity", producerSeverity.String())
	}

	if event.Severity == domain.SeverityLow {
		log.Debug("low severity event, nothing to adjust")
		c.settle(ctx, raw, "ignored")
		return true
	}

	attempts, err := c.apply(ctx, log, event)
	if err == nil {
		c.settle(ctx, raw, "applied")
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	perr := &domain.EventProcessingError{StationID: event.StationID, Severity: event.Severity, Err: err}
	log.Error("weather event could not be applied", "attempts", attempts, "error", perr)
	return c.deadLetter(ctx, log, raw, perr, attempts, "dead_lettered")
}

// apply runs the rule engine with exponential backoff. Without a dead-letter
// sink attempts are unbounded.
func (c *Consumer) apply(ctx context.Context, log *slog.Logger, event domain.WeatherChangeEvent) (int, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.InitialInterval
	eb.MaxInterval = c.opts.MaxInterval
	eb.MaxElapsedTime = 0

	var policy backoff.BackOff = eb
	if c.dlq != nil {
		policy = backoff.WithMaxRetries(eb, uint64(c.opts.MaxAttempts-1))
	}

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		report, err := c.applier.Apply(ctx, event)
		if err != nil {
			return err
		}
		log.Info("weather event applied",
			"candidates", report.Candidates,
			"adjusted", len(report.Adjusted),
			"replayed", report.Replayed,
			"description", event.Description,
		)
		return nil
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		c.metrics.ProcessingErrors.Inc()
		log.Warn("apply weather event failed, retrying", "attempt", attempts, "wait", wait, "error", err)
	})
	if err != nil {
		c.metrics.ProcessingErrors.Inc()
	}
	return attempts, err
}

func (c *Consumer) deadLetter(ctx context.Context, log *slog.Logger, raw domain.RawEvent, cause error, attempts int, result string) bool {
	for wait := 200 * time.Millisecond; ; wait = retry.NextBackoff(wait, 5*time.Second) {
		err := c.dlq.DeadLetter(ctx, raw, cause, attempts)
		if err == nil {
			log.Warn("weather event dead-lettered", "attempts", attempts)
			c.settle(ctx, raw, result)
			return true
		}
		log.Error("dead-letter publish failed", "error", err)
		if !retry.SleepWithContext(ctx, wait) {
			return false
		}
	}
}

// settle commits the offset and records the result.
func (c *Consumer) settle(ctx context.Context, raw domain.RawEvent, result string) {
	c.metrics.EventsProcessed.WithLabelValues(result).Inc()
	c.ready.Store(true)
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		c.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
