package service

import (
	"context"
	"errors"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/correlation"
	domainErrors "github.com/cassiomorais/fiscalbridge/internal/domain/errors"
	"github.com/cassiomorais/fiscalbridge/internal/domain/outbox"
	"github.com/cassiomorais/fiscalbridge/internal/domain/receipt"
	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// Prober checks the outboxes once without waiting.
type Prober interface {
	Probe(name, echo string) (correlation.Outcome, bool)
}

// Locker takes a lock without waiting.
type Locker interface {
	TryLock(ctx context.Context, key string) (func(context.Context) error, error)
}

// ReconcilerConfig bounds one reconciliation pass.
type ReconcilerConfig struct {
	// Window is how far back timed out receipts are still examined.
	Window time.Duration
	// StalePending is the age after which a pending receipt is taken to be
	// abandoned by a dispatch that never finished. It must exceed the
	// longest correlation wait.
	StalePending time.Duration
	Batch        int
}

// Reconciler settles timed out receipts whose result landed after the
// caller stopped waiting, and pending ones left behind when the API stopped
// mid-dispatch. It only reads the outboxes; a command is never rewritten or
// re-sent.
type Reconciler struct {
	service *ReceiptService
	prober  Prober
	locker  Locker
	cfg     ReconcilerConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewReconciler creates a Reconciler that journals through svc.
func NewReconciler(svc *ReceiptService, prober Prober, locker Locker, cfg ReconcilerConfig, metrics *observability.Metrics, logger zerolog.Logger) *Reconciler {
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	if cfg.StalePending <= 0 {
		cfg.StalePending = 5 * time.Minute
	}
	return &Reconciler{
		service: svc,
		prober:  prober,
		locker:  locker,
		cfg:     cfg,
		logger:  observability.Component(logger, "reconciler"),
		metrics: metrics,
	}
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error().Err(err).Msg("reconciliation pass failed")
		}
	}
}

// RunOnce examines one batch of unsettled receipts and returns how many
// were settled.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	now := r.service.now()
	staleBefore := now.Add(-r.cfg.StalePending)
	unsettled, err := r.service.receipts.ListUnsettled(ctx, now.Add(-r.cfg.Window), staleBefore, r.cfg.Batch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, rc := range unsettled {
		if ctx.Err() != nil {
			break
		}
		ok, err := r.reconcile(ctx, rc, staleBefore)
		if err != nil {
			r.count("error")
			r.logger.Error().Err(err).Str("receipt_id", rc.ID.String()).Msg("failed to reconcile receipt")
			continue
		}
		if ok {
			settled++
		}
	}
	return settled, nil
}

func (r *Reconciler) reconcile(ctx context.Context, rc *receipt.Receipt, staleBefore time.Time) (bool, error) {
	release, err := r.locker.TryLock(ctx, "receipt:"+rc.ID.String())
	if errors.Is(err, domainErrors.ErrLockAcquisitionFailed) {
		r.count("locked")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn().Err(err).Str("receipt_id", rc.ID.String()).Msg("failed to release reconcile lock")
		}
	}()

	// another worker may have settled it between listing and locking
	current, err := r.service.receipts.GetByID(ctx, rc.ID)
	if err != nil {
		return false, err
	}
	abandoned := current.Status == receipt.StatusPending && current.CreatedAt.Before(staleBefore)
	if current.Status != receipt.StatusTimedOut && !abandoned {
		r.count("skipped")
		return false, nil
	}

	log := r.logger.With().
		Str("receipt_id", current.ID.String()).
		Str("artifact", current.ArtifactName).
		Logger()

	outcome, found := r.prober.Probe(current.ArtifactName, current.Command)
	if !found {
		if !abandoned {
			r.count("absent")
			return false, nil
		}
		// no answer yet; journal it as timed out so later passes treat it
		// like any other late result
		r.service.resolve(ctx, log, current, correlation.TimedOut{ArtifactName: current.ArtifactName}, outbox.EventReceiptReconciled)
		r.count("abandoned")
		log.Warn().Msg("abandoned pending receipt marked timed out")
		return true, nil
	}

	r.service.resolve(ctx, log, current, outcome, outbox.EventReceiptReconciled)
	r.count(outcome.State().String())
	log.Info().Str("outcome", outcome.State().String()).Msg("late driver result reconciled")
	return true, nil
}

func (r *Reconciler) count(result string) {
	if r.metrics != nil {
		r.metrics.ReconciledTotal.WithLabelValues(result).Inc()
	}
}
