//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/couchcryptid/irrigation-engine/internal/adapter/kafka"
	"github.com/couchcryptid/irrigation-engine/internal/adapter/memory"
	"github.com/couchcryptid/irrigation-engine/internal/config"
	"github.com/couchcryptid/irrigation-engine/internal/domain"
	"github.com/couchcryptid/irrigation-engine/internal/ingest"
	"github.com/couchcryptid/irrigation-engine/internal/observability"
	"github.com/couchcryptid/irrigation-engine/internal/rules"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWeatherTopic = "test-weather-changes"
	testDLQTopic     = "test-weather-changes-dlq"
)

const heavyRain = `{
	"stationId": 7,
	"stationNom": "Meknes",
	"oldConditions": {"temperatureMax": 24.0, "pluiePrevue": 0.0, "vent": 10.0, "date": "2025-06-10T00:00:00"},
	"newConditions": {"temperatureMax": 24.5, "pluiePrevue": 25.0, "vent": 11.0, "date": "2025-06-10T00:00:00"},
	"timestamp": "2025-06-09T18:20:00",
	"severity": "HIGH"
}`

// TestIngestEndToEnd publishes a heavy-rain change and a poison message and
// checks the program is cancelled, the poison message is dead-lettered and
// both offsets are committed.
func TestIngestEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testWeatherTopic)
	createTopic(t, broker, testDLQTopic)

	cfg := &config.Config{
		KafkaBrokers:      []string{broker},
		KafkaWeatherTopic: testWeatherTopic,
		KafkaDLQTopic:     testDLQTopic,
		KafkaGroupID:      fmt.Sprintf("test-ingest-%d", time.Now().UnixNano()),
	}
	logger := observability.DiscardLogger()

	store := memory.NewStore()
	inWindow := store.Add(domain.Program{
		PlotID:          3,
		PlotName:        "olive-grove",
		ScheduledAt:     time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC),
		DurationMinutes: 45,
		PlannedVolume:   30,
	})
	outOfWindow := store.Add(domain.Program{
		PlotID:          3,
		PlotName:        "olive-grove",
		ScheduledAt:     time.Date(2025, 6, 14, 6, 0, 0, 0, time.UTC),
		DurationMinutes: 45,
		PlannedVolume:   30,
	})

	producer := &kafkago.Writer{
		Addr:     kafkago.TCP(broker),
		Topic:    testWeatherTopic,
		Balancer: &kafkago.Hash{},
	}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")},
		kafkago.Message{Key: []byte(domain.StationKey(7)), Value: []byte(heavyRain)},
	))

	reader := kafka.NewReader(cfg, logger)
	dlq := kafka.NewDeadLetterWriter(cfg, logger)
	t.Cleanup(func() { _ = dlq.Close() })

	metrics := observability.NewMetricsForTesting()
	engine := rules.NewEngine(store, memory.NewLedger(100, time.Hour, clockwork.NewRealClock()), logger, metrics)
	consumer := ingest.NewConsumer(reader, engine, dlq, ingest.Options{MaxAttempts: 2}, logger, metrics)

	runCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return store.Get(inWindow.ID).Status == domain.StatusCancelled
	}, 60*time.Second, 200*time.Millisecond, "in-window program should be cancelled")
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.EventsProcessed.WithLabelValues("applied")) == 1
	}, 10*time.Second, 100*time.Millisecond)

	stop()
	require.NoError(t, <-errCh)
	require.NoError(t, reader.Close())

	assert.Equal(t, domain.StatusScheduled, store.Get(outOfWindow.ID).Status)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.EventsProcessed.WithLabelValues("invalid")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Adjustments.WithLabelValues("CRITICAL", "heavy_rain_cancel")), 0)

	// The poison message lands on the dead-letter topic with its failure headers.
	dlqReader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testDLQTopic,
		GroupID:     fmt.Sprintf("test-dlq-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = dlqReader.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	msg, err := dlqReader.ReadMessage(readCtx)
	readCancel()
	require.NoError(t, err)
	assert.Equal(t, "not-json{{{", string(msg.Value))
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, testWeatherTopic, headers["source_topic"])
	assert.Equal(t, "1", headers["attempts"])
	assert.Contains(t, headers["error"], "invalid weather change event")

	// Both offsets were committed, so the group resumes with nothing left.
	again := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: []string{broker},
		Topic:   testWeatherTopic,
		GroupID: cfg.KafkaGroupID,
	})
	t.Cleanup(func() { _ = again.Close() })

	readCtx, readCancel = context.WithTimeout(ctx, 10*time.Second)
	_, err = again.FetchMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no uncommitted message")
}
