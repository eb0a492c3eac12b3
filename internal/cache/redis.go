package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every counter key.
const DefaultRedisPrefix = "piishield:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0")
	URL string

	// Prefix is prepended to every key (defaults to "piishield:")
	Prefix string
}

// RedisCounter implements Counter with INCR and EXPIRE NX in one MULTI/EXEC
// so that several gateway instances share one window per key.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter creates a new Redis-backed counter.
func NewRedisCounter(cfg RedisConfig) (*RedisCounter, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	slog.Info("redis counter connected", "prefix", prefix)

	return &RedisCounter{
		client: client,
		prefix: prefix,
	}, nil
}

// Incr increments key and, in the same transaction, sets its expiry when the
// key has none. A key therefore never outlives its window without a TTL.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := c.prefix + key

	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		pipe.ExpireNX(ctx, fullKey, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter in redis: %w", err)
	}
	return incr.Val(), nil
}

// Close closes the Redis connection.
func (c *RedisCounter) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
