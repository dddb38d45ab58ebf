// Command simdriver answers inbox artifacts like the fiscal driver so the
// bridge can run end to end without a printer attached.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/config"
	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/mailbox"
	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/observability"
	"github.com/cassiomorais/fiscalbridge/internal/simulator"
	"github.com/spf13/pflag"
)

func main() {
	var (
		failureRate float64
		timeoutRate float64
		latency     time.Duration
		message     string
	)
	pflag.Float64Var(&failureRate, "failure-rate", 0, "Share of commands answered with an error artifact (0.0 to 1.0)")
	pflag.Float64Var(&timeoutRate, "timeout-rate", 0, "Share of commands never answered (0.0 to 1.0)")
	pflag.DurationVar(&latency, "latency", 300*time.Millisecond, "Delay before answering each command")
	pflag.StringVar(&message, "message", "Simulated printer failure", "Error message written to error artifacts")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := observability.InitLogger(cfg.Observability.LogLevel, os.Stdout).
		With().Str("service", "fiscalbridge-simdriver").Logger()

	driver := simulator.NewDriver(
		mailbox.NewStore(),
		cfg.Mailbox.InboxDir,
		cfg.Mailbox.SuccessDir,
		cfg.Mailbox.ErrorDir,
		logger,
		simulator.WithFailureRate(failureRate),
		simulator.WithTimeoutRate(timeoutRate),
		simulator.WithLatency(latency),
		simulator.WithFailureMessage(message),
		simulator.WithPollInterval(cfg.Mailbox.PollInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("inbox", cfg.Mailbox.InboxDir).
		Float64("failure_rate", failureRate).
		Float64("timeout_rate", timeoutRate).
		Dur("latency", latency).
		Msg("Driver simulator started")

	if err := driver.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Driver simulator stopped")
	}
	logger.Info().Msg("Driver simulator exited")
}
