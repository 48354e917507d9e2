package payment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAttemptStore keeps the per-number sliding window in Redis so the
// budget survives process restarts within the window.
type RedisAttemptStore struct {
	client    RedisAttemptClient
	keyPrefix string
	limit     int
	window    time.Duration
}

// RedisAttemptClient is the minimal client surface used by RedisAttemptStore.
type RedisAttemptClient interface {
	Pipeline() RedisAttemptPipeliner
}

// RedisAttemptPipeliner is the subset of commands used within a pipeline.
type RedisAttemptPipeliner interface {
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Exec(ctx context.Context) ([]redis.Cmder, error)
}

// NewRedisAttemptStore constructs a Redis-backed attempt store.
func NewRedisAttemptStore(client RedisAttemptClient, limit int, window time.Duration) *RedisAttemptStore {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RedisAttemptStore{
		client:    client,
		keyPrefix: "otp_attempts:",
		limit:     limit,
		window:    window,
	}
}

// Allow trims expired attempts, counts the remainder, and records the new
// attempt only when the budget allows it.
func (s *RedisAttemptStore) Allow(ctx context.Context, phone string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := s.keyPrefix + phone
	cutoff := now.Add(-s.window).UnixMilli()

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("count otp attempts: %w", err)
	}

	if card.Val() >= int64(s.limit) {
		return false, nil
	}

	record := s.client.Pipeline()
	record.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	record.Expire(ctx, key, s.window)
	if _, err := record.Exec(ctx); err != nil {
		return false, fmt.Errorf("record otp attempt: %w", err)
	}
	return true, nil
}
