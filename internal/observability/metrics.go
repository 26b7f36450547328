package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "irrigation"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// scheduling and adjustment engine.
type Metrics struct {
	// Execution engine.
	Executions         *prometheus.CounterVec // labels: outcome={completed,skipped,conflict,released,cancelled}
	WaterDelivered     prometheus.Counter
	ExecutionDuration  prometheus.Histogram
	ArchivablePrograms prometheus.Gauge

	// Poller.
	TickFailures *prometheus.CounterVec // labels: job={execute,cleanup}
	LastTick     *prometheus.GaugeVec   // labels: job={execute,cleanup}

	// Rule engine.
	Adjustments *prometheus.CounterVec // labels: severity, rule

	// Event ingest.
	EventsConsumed   prometheus.Counter
	EventsProcessed  *prometheus.CounterVec // labels: result={applied,ignored,dead_lettered,invalid}
	ProcessingErrors prometheus.Counter
	IngestRunning    prometheus.Gauge
}

// NewMetrics creates and registers all engine metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)

	prometheus.MustRegister(
		m.Executions,
		m.WaterDelivered,
		m.ExecutionDuration,
		m.ArchivablePrograms,
		m.TickFailures,
		m.LastTick,
		m.Adjustments,
		m.EventsConsumed,
		m.EventsProcessed,
		m.ProcessingErrors,
		m.IngestRunning,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}

	return &Metrics{
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "program_executions_total",
			Help:      help("Program execution attempts by outcome."),
		}, []string{"outcome"}),
		WaterDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "water_delivered_cubic_meters_total",
			Help:      help("Total journaled water volume in cubic meters."),
		}),
		ExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "program_execution_duration_seconds",
			Help:      help("Duration of a single claimed program execution."),
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}),
		ArchivablePrograms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archivable_programs",
			Help:      help("Completed programs older than the retention window at the last cleanup."),
		}),
		TickFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_failures_total",
			Help:      help("Poller ticks that ended in an error or panic."),
		}, []string{"job"}),
		LastTick: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_last_tick_timestamp_seconds",
			Help:      help("Unix time of the last completed poller tick."),
		}, []string{"job"}),
		Adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "program_adjustments_total",
			Help:      help("Programs mutated by weather rules, by severity and rule."),
		}, []string{"severity", "rule"}),
		EventsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_events_consumed_total",
			Help:      help("Weather change messages read from the topic."),
		}),
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_events_processed_total",
			Help:      help("Weather change messages committed, by result."),
		}, []string{"result"}),
		ProcessingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_event_processing_errors_total",
			Help:      help("Failed attempts to apply a weather change event."),
		}),
		IngestRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_running",
			Help:      help("1 when the weather event consumer is active, 0 when shut down."),
		}),
	}
}
