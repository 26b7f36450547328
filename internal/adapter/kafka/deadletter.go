package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/irrigation-engine/internal/config"
	"github.com/couchcryptid/irrigation-engine/internal/domain"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// DeadLetterWriter republishes unprocessable weather events to the dead-letter
// topic. It implements ingest.DeadLetterSink.
type DeadLetterWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewDeadLetterWriter creates a producer for the configured dead-letter topic.
func NewDeadLetterWriter(cfg *config.Config, logger *slog.Logger) *DeadLetterWriter {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaDLQTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &DeadLetterWriter{writer: w, logger: logger}
}

// DeadLetter publishes raw unchanged, with the failure recorded in headers.
func (w *DeadLetterWriter) DeadLetter(ctx context.Context, raw domain.RawEvent, cause error, attempts int) error {
	msg := deadLetterMessage(raw, cause, attempts, time.Now().UTC())
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

func (w *DeadLetterWriter) Close() error {
	return w.writer.Close()
}

// deadLetterMessage keeps the original key so per-station ordering survives.
func deadLetterMessage(raw domain.RawEvent, cause error, attempts int, at time.Time) kafkago.Message {
	return kafkago.Message{
		Key:   raw.Key,
		Value: raw.Value,
		Headers: []kafkago.Header{
			{Key: "dlq_id", Value: []byte(uuid.NewString())},
			{Key: "error", Value: []byte(cause.Error())},
			{Key: "attempts", Value: []byte(strconv.Itoa(attempts))},
			{Key: "source_topic", Value: []byte(raw.Topic)},
			{Key: "source_partition", Value: []byte(strconv.Itoa(raw.Partition))},
			{Key: "source_offset", Value: []byte(strconv.FormatInt(raw.Offset, 10))},
			{Key: "failed_at", Value: []byte(at.Format(time.RFC3339))},
		},
	}
}
