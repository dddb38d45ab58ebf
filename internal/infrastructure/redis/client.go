package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/config"
	"github.com/cassiomorais/fiscalbridge/pkg/retry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// NewClient creates a Redis client and waits, with backoff, until it answers
// a PING.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	rc := retry.DefaultConfig()
	rc.OnRetry = func(n uint, err error) {
		log.Warn().Err(err).Uint("attempt", n+1).Msg("redis not reachable yet")
	}
	if cfg.ConnectRetries > 0 {
		rc.MaxAttempts = uint(cfg.ConnectRetries)
	}
	if cfg.ConnectRetryDelay > 0 {
		rc.InitialDelay = cfg.ConnectRetryDelay
	}

	err := retry.Do(ctx, rc, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", rc.MaxAttempts, err)
	}

	return client, nil
}
