package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/bootstrap"
	infraRedis "github.com/cassiomorais/fiscalbridge/internal/infrastructure/redis"
	"github.com/cassiomorais/fiscalbridge/internal/repository/postgres"
	"github.com/cassiomorais/fiscalbridge/internal/service"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "fiscalbridge-worker", "fiscalbridge_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	workerCfg := app.Config.Worker
	corr := app.Correlator()
	receiptService := app.ReceiptService(corr)

	publisher := service.NewOutboxPublisher(
		app.Outbox,
		app.TxManager,
		infraRedis.NewStreamProducer(app.Redis, infraRedis.ReceiptStream),
		infraRedis.ReceiptStream,
		workerCfg.OutboxBatchSize,
		app.Metrics,
		app.Logger,
	)
	reconciler := service.NewReconciler(
		receiptService,
		corr,
		app.Locker,
		service.ReconcilerConfig{
			Window:       workerCfg.ReconcileWindow,
			StalePending: app.Config.Mailbox.MaxTimeout + time.Minute,
			Batch:        workerCfg.ReconcileBatch,
		},
		app.Metrics,
		app.Logger,
	)

	app.Logger.Info().
		Str("instance", app.Config.InstanceID).
		Str("stream", infraRedis.ReceiptStream).
		Dur("reconcile_window", workerCfg.ReconcileWindow).
		Msg("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Outbox publisher (receipt journal events to the Redis stream).
	g.Go(func() error {
		return publisher.Run(gCtx, workerCfg.OutboxPollInterval)
	})

	// 2. Reconciler (late results and abandoned pending receipts).
	g.Go(func() error {
		return reconciler.Run(gCtx, workerCfg.ReconcileInterval)
	})

	// 3. Expired idempotency keys.
	g.Go(func() error {
		return runIdempotencyCleanup(gCtx, app.Logger, app.Idempotency, workerCfg.IdempotencyCleanupInterval)
	})

	// 4. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

func runIdempotencyCleanup(
	ctx context.Context,
	logger zerolog.Logger,
	repo *postgres.IdempotencyRepository,
	interval time.Duration,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := repo.Cleanup(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Idempotency cleanup failed")
			continue
		}
		if n > 0 {
			logger.Info().Int64("deleted", n).Msg("Expired idempotency keys removed")
		}
	}
}
