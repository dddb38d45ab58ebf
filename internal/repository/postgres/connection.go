package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/config"
	"github.com/cassiomorais/fiscalbridge/pkg/retry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// NewPool creates a PostgreSQL connection pool and waits, with backoff, until
// the database answers a ping.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	rc := retry.DefaultConfig()
	rc.OnRetry = func(n uint, err error) {
		log.Warn().Err(err).Uint("attempt", n+1).Msg("database not reachable yet")
	}
	if cfg.ConnectRetries > 0 {
		rc.MaxAttempts = cfg.ConnectRetries
	}
	if err := retry.Do(ctx, rc, func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
