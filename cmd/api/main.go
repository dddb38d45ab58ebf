package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/fiscalbridge/internal/bootstrap"
	"github.com/cassiomorais/fiscalbridge/internal/controller"
	customMW "github.com/cassiomorais/fiscalbridge/internal/middleware"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "fiscalbridge-api", "fiscalbridge")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	receiptService := app.ReceiptService(app.Correlator())

	router := controller.NewRouter(controller.RouterDeps{
		DB:               app.Pool,
		Redis:            controller.PingFunc(func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }),
		ReceiptService:   receiptService,
		IdempotencyStore: app.Idempotency,
		Locker:           customMW.Leases(app.IdempotencyLocks.TryLease),
		Idempotency: customMW.IdempotencyConfig{
			TTL:         app.Config.Worker.IdempotencyTTL,
			LockRefresh: app.IdempotencyLocks.TTL() / 3,
		},
		Metrics:   app.Metrics,
		Server:    app.Config.Server,
		JWTSecret: app.Config.Auth.JWTSecret,
		InboxDir:  app.Config.Mailbox.InboxDir,
		Logger:    app.Logger,
	})

	// WriteTimeout exceeds mailbox.max_timeout (enforced by config validation)
	// so a full correlation wait always fits in one response.
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// In-flight requests keep polling until their own deadline; Shutdown
	// waits for them up to shutdown_timeout.
	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
