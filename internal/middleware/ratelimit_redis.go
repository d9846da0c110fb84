package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimitStore implements rate limiting using Redis.
// Suitable for multi-instance deployments where rate limits must be
// shared across replicas. Fails open when Redis is unavailable.
type RedisRateLimitStore struct {
	client  *redis.Client
	logger  *slog.Logger
	metrics *Metrics
}

// NewRedisRateLimitStore creates a new Redis-backed rate limit store.
func NewRedisRateLimitStore(client *redis.Client, logger *slog.Logger, metrics *Metrics) *RedisRateLimitStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRateLimitStore{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}
}

// Allow implements RateLimitStore using a fixed-window counter in Redis.
// The window is keyed by the rate limit key plus the window start timestamp,
// so all replicas observe the same counter. Redis errors fail open: the
// request is allowed and the error is counted.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int) {
	windowStart := time.Now().Truncate(config.WindowDuration).Unix()
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, windowStart)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, config.WindowDuration)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("rate limit redis error, failing open",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.IncRateLimitRedisErrors()
		}
		return true, 0
	}

	count := int(incr.Val())
	if count > config.RequestsPerWindow {
		return false, count
	}
	return true, count
}
