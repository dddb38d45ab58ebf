package service

import (
	"errors"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/correlation"
	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

const driverBreakerName = "fiscal_driver"

// errDriverTimeout marks a timed out correlation as a breaker failure. It
// never leaves this package.
var errDriverTimeout = errors.New("driver did not answer before the deadline")

// DriverBreaker trips after a run of consecutive dispatches that either
// could not be written or got no answer from the driver. A FAILED outcome
// is a success here: the driver is alive and answering.
//
// Admission is a separate step from reporting so a dispatch can be turned
// away before its receipt is journaled.
type DriverBreaker = gobreaker.TwoStepCircuitBreaker[correlation.Outcome]

// NewDriverBreaker creates the breaker that guards the inbox.
func NewDriverBreaker(failures uint32, cooldown time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *DriverBreaker {
	if failures == 0 {
		failures = 5
	}
	if metrics != nil {
		metrics.CircuitBreakerState.WithLabelValues(driverBreakerName).Set(0)
	}

	return gobreaker.NewTwoStepCircuitBreaker[correlation.Outcome](gobreaker.Settings{
		Name:        driverBreakerName,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			if metrics != nil {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			}
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
