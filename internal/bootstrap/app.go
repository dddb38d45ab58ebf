package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/cassiomorais/fiscalbridge/internal/correlation"
	"github.com/cassiomorais/fiscalbridge/internal/fiscal"
	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/config"
	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/mailbox"
	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/fiscalbridge/internal/infrastructure/redis"
	"github.com/cassiomorais/fiscalbridge/internal/repository/postgres"
	"github.com/cassiomorais/fiscalbridge/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
	Mailbox *mailbox.Store

	Receipts    *postgres.ReceiptRepository
	Outbox      *postgres.OutboxRepository
	Idempotency *postgres.IdempotencyRepository
	TxManager   *postgres.TxManager
	Locker      *infraRedis.Locker

	// IdempotencyLocks guard in-flight Idempotency-Keys in the API.
	IdempotencyLocks *infraRedis.Locker
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, os.Stdout).
		With().Str("service", serviceName).Logger()
	log.Logger = logger
	logger.Info().Str("mode", cfg.Fiscal.Mode).Msg("Starting")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				observability.Shutdown(context.Background(), tp)
			}()
			logger.Info().Msg("Tracing enabled")
		}
	}

	metrics := observability.NewMetrics(metricsNamespace, nil)

	store := mailbox.NewStore()
	for _, dir := range []string{cfg.Mailbox.InboxDir, cfg.Mailbox.SuccessDir, cfg.Mailbox.ErrorDir} {
		if err := store.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("prepare mailbox: %w", err)
		}
	}
	logger.Info().
		Str("inbox", cfg.Mailbox.InboxDir).
		Str("success", cfg.Mailbox.SuccessDir).
		Str("error", cfg.Mailbox.ErrorDir).
		Msg("Mailbox ready")

	pool, err := postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	return &App{
		Config:      cfg,
		Logger:      logger,
		Pool:        pool,
		Redis:       redisClient,
		Metrics:     metrics,
		Mailbox:     store,
		Receipts:    postgres.NewReceiptRepository(pool),
		Outbox:      postgres.NewOutboxRepository(pool),
		Idempotency: postgres.NewIdempotencyRepository(pool),
		TxManager:   postgres.NewTxManager(pool),
		Locker:      infraRedis.NewLocker(redisClient, cfg.Worker.LockTTL),

		IdempotencyLocks: infraRedis.NewLocker(redisClient, cfg.Worker.IdempotencyLockTTL),
	}, nil
}

// Correlator watches the configured outboxes.
func (a *App) Correlator() *correlation.Correlator {
	return correlation.NewCorrelator(
		a.Mailbox,
		a.Config.Mailbox.SuccessDir,
		a.Config.Mailbox.ErrorDir,
		a.Logger,
		correlation.WithPollInterval(a.Config.Mailbox.PollInterval),
		correlation.WithMetrics(a.Metrics),
	)
}

// ReceiptService wires the renderer, inbox, correlator and journal.
func (a *App) ReceiptService(corr *correlation.Correlator) *service.ReceiptService {
	fc := a.Config.Fiscal
	renderer := fiscal.NewRenderer(fiscal.Config{
		Mode:          fiscal.Mode(fc.Mode),
		FiscalCode:    fc.FiscalCode,
		VATCode:       fc.VATCode,
		CashCode:      fc.CashCode,
		CardCode:      fc.CardCode,
		ReportCommand: fc.ReportCommand,
	})
	breaker := service.NewDriverBreaker(fc.BreakerFailures, fc.BreakerCooldown, a.Metrics, a.Logger)

	return service.NewReceiptService(
		a.Receipts, a.Outbox, a.TxManager,
		renderer, a.Mailbox, corr, breaker,
		a.Metrics, a.Logger,
		service.DispatchConfig{
			InboxDir:       a.Config.Mailbox.InboxDir,
			DefaultTimeout: a.Config.Mailbox.DefaultTimeout,
			MaxTimeout:     a.Config.Mailbox.MaxTimeout,
		},
	)
}

func (a *App) Close() {
	a.Redis.Close()
	a.Pool.Close()
}
