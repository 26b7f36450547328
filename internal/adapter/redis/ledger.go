// Package redis keeps the adjustment ledger in Redis so that every consumer
// in the group sees the same applied keys.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/irrigation-engine/internal/config"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "irrigation:"

// Ledger records applied adjustment keys with a TTL.
type Ledger struct {
	client *goredis.Client
	ttl    time.Duration
}

// Connect creates a client from config and pings it.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	logger.InfoContext(ctx, "connected to redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return client, nil
}

// NewLedger creates a Ledger whose keys expire after ttl.
func NewLedger(client *goredis.Client, ttl time.Duration) *Ledger {
	return &Ledger{client: client, ttl: ttl}
}

// Seen reports whether key exists.
func (l *Ledger) Seen(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	return n > 0, nil
}

// Record sets every key with the ledger TTL in one pipeline.
func (l *Ledger) Record(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	appliedAt := time.Now().UTC().Format(time.RFC3339)
	_, err := l.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, key := range keys {
			pipe.Set(ctx, keyPrefix+key, appliedAt, l.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record %d adjustment keys: %w", len(keys), err)
	}
	return nil
}

// CheckReadiness pings Redis.
func (l *Ledger) CheckReadiness(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
