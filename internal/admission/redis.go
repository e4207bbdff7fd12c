// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package admission

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DefaultKeyPrefix namespaces limiter keys in a shared Redis.
const DefaultKeyPrefix = "holoauth:ratelimit:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
	TLS      bool
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewRedisClient creates a client and pings it, retrying per backoff.
func NewRedisClient(ctx context.Context, cfg RedisConfig, backoff retry.Backoff) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: cfg.Host}
	}
	client := redis.NewClient(opts)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := client.Ping(ctx).Err(); err != nil {
			slog.WarnContext(ctx, "redis not reachable",
				"attempt", attempt,
				"addr", opts.Addr,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close() //nolint:errcheck // connect error takes precedence
		return nil, oops.Code("REDIS_CONNECT_FAILED").
			With("attempts", attempt).
			With("addr", opts.Addr).
			Wrap(err)
	}

	slog.InfoContext(ctx, "connected to redis", "addr", opts.Addr, "attempts", attempt)
	return client, nil
}

// RedisCounter is a Counter backed by Redis, so every instance behind a load
// balancer shares one window per key.
type RedisCounter struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCounter creates a counter using DefaultKeyPrefix.
func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client, prefix: DefaultKeyPrefix}
}

// Increment implements Counter. INCR and PTTL run in one MULTI; a key without
// an expiry is the first hit of a new window and gets one.
func (c *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	k := c.prefix + key

	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return 0, 0, oops.Code("RATELIMIT_COUNTER_FAILED").
			With("operation", "increment").
			Wrap(err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		if err := c.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, 0, oops.Code("RATELIMIT_COUNTER_FAILED").
				With("operation", "expire").
				Wrap(err)
		}
		ttl = window
	}
	return incr.Val(), ttl, nil
}
