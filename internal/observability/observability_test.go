package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/couchcryptid/irrigation-engine/internal/config"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger_Level(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := NewLogger(&config.Config{LogLevel: "warn", LogFormat: "text"})

	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
	assert.Same(t, logger, slog.Default())
}

func TestDiscardLogger(t *testing.T) {
	assert.NotPanics(t, func() { DiscardLogger().Error("dropped", "program_id", 1) })
}

func TestMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.Executions.WithLabelValues("completed").Inc()
	assert.InDelta(t, 1, testutil.ToFloat64(a.Executions.WithLabelValues("completed")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(b.Executions.WithLabelValues("completed")), 0)
}

func TestMetricsForTesting_Labels(t *testing.T) {
	m := NewMetricsForTesting()

	m.Adjustments.WithLabelValues("HIGH", "rain_volume_reduction").Inc()
	m.EventsProcessed.WithLabelValues("applied").Add(2)
	m.TickFailures.WithLabelValues("cleanup").Inc()

	assert.InDelta(t, 1, testutil.ToFloat64(m.Adjustments.WithLabelValues("HIGH", "rain_volume_reduction")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.EventsProcessed.WithLabelValues("applied")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TickFailures.WithLabelValues("cleanup")), 0)
}
