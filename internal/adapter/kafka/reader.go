package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/irrigation-engine/internal/config"
	"github.com/couchcryptid/irrigation-engine/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes weather change events from a consumer group with manual
// commits. It implements ingest.Source.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a consumer-group reader for the weather topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaWeatherTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Reader{reader: r, logger: logger}
}

// FetchEvent blocks until the next message arrives. The returned event's
// Commit acknowledges exactly that message.
func (r *Reader) FetchEvent(ctx context.Context) (domain.RawEvent, error) {
	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return domain.RawEvent{}, fmt.Errorf("fetch message: %w", err)
	}
	raw := mapMessageToRawEvent(msg)
	raw.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return raw, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

func mapMessageToRawEvent(msg kafkago.Message) domain.RawEvent {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawEvent{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
