package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"paygate/cmd/server/config"
	"paygate/internal/payment"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// buildAttemptStore returns the OTP rate limit store. With REDIS_URL set it
// connects to Redis so the per-number budget survives restarts; otherwise it
// falls back to the in-memory sliding window.
func buildAttemptStore(ctx context.Context, rl config.RateLimitConfig) (payment.AttemptStore, func(), error) {
	if strings.TrimSpace(os.Getenv("REDIS_URL")) == "" {
		log.Println("REDIS_URL not set; using in-memory OTP attempt store")
		return payment.NewMemoryAttemptStore(rl.Limit, rl.Window), func() {}, nil
	}

	cfg, err := config.LoadRedis()
	if err != nil {
		return nil, nil, err
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}

	pingCtx := ctx
	if pingCtx == nil {
		pingCtx = context.Background()
	}
	if cfg.HealthcheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(pingCtx, cfg.HealthcheckTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	store := payment.NewRedisAttemptStore(redisClientAdapter{client: client}, rl.Limit, rl.Window)
	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Printf("close redis: %v", err)
		}
	}
	return store, cleanup, nil
}

type redisClientAdapter struct {
	client *redis.Client
}

func (a redisClientAdapter) Pipeline() payment.RedisAttemptPipeliner {
	return redisPipelineAdapter{pipe: a.client.Pipeline()}
}

type redisPipelineAdapter struct {
	pipe redis.Pipeliner
}

func (p redisPipelineAdapter) ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd {
	return p.pipe.ZRemRangeByScore(ctx, key, min, max)
}

func (p redisPipelineAdapter) ZCard(ctx context.Context, key string) *redis.IntCmd {
	return p.pipe.ZCard(ctx, key)
}

func (p redisPipelineAdapter) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	return p.pipe.ZAdd(ctx, key, members...)
}

func (p redisPipelineAdapter) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return p.pipe.Expire(ctx, key, expiration)
}

func (p redisPipelineAdapter) Exec(ctx context.Context) ([]redis.Cmder, error) {
	return p.pipe.Exec(ctx)
}
