package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/correlation"
	domainErrors "github.com/cassiomorais/fiscalbridge/internal/domain/errors"
	"github.com/cassiomorais/fiscalbridge/internal/domain/outbox"
	"github.com/cassiomorais/fiscalbridge/internal/domain/receipt"
	"github.com/cassiomorais/fiscalbridge/internal/fiscal"
	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/mailbox"
	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("fiscalbridge/service")

// ArtifactWriter persists a command artifact into the inbox.
type ArtifactWriter interface {
	Write(dir, name string, data []byte) (string, error)
}

// Awaiter waits for the driver's answer to one artifact.
type Awaiter interface {
	Await(ctx context.Context, name, echo string, timeout time.Duration) correlation.Outcome
}

// TransactionManager commits a receipt update and its outbox event as one
// unit. Repositories called with the ctx passed to fn join the transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// DispatchConfig holds the inbox location and timeout bounds.
type DispatchConfig struct {
	InboxDir       string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// DispatchRequest is one transaction to send to the driver.
type DispatchRequest struct {
	Transaction receipt.Transaction
	// Timeout overrides DispatchConfig.DefaultTimeout when positive.
	Timeout time.Duration
}

// DispatchResult is the journaled receipt and the driver's answer.
type DispatchResult struct {
	Receipt *receipt.Receipt
	Outcome correlation.Outcome
}

// ReceiptService drives a transaction through render, inbox write and
// correlation, and keeps the receipt journal in step.
type ReceiptService struct {
	receipts   receipt.Repository
	outboxRepo outbox.Repository
	txManager  TransactionManager
	renderer   *fiscal.Renderer
	writer     ArtifactWriter
	awaiter    Awaiter
	breaker    *DriverBreaker
	metrics    *observability.Metrics
	logger     zerolog.Logger
	cfg        DispatchConfig
	now        func() time.Time
}

// NewReceiptService creates a new ReceiptService. metrics may be nil.
func NewReceiptService(
	receipts receipt.Repository,
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	renderer *fiscal.Renderer,
	writer ArtifactWriter,
	awaiter Awaiter,
	breaker *DriverBreaker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	cfg DispatchConfig,
) *ReceiptService {
	return &ReceiptService{
		receipts:   receipts,
		outboxRepo: outboxRepo,
		txManager:  txManager,
		renderer:   renderer,
		writer:     writer,
		awaiter:    awaiter,
		breaker:    breaker,
		metrics:    metrics,
		logger:     observability.Component(logger, "receipt_service"),
		cfg:        cfg,
		now:        time.Now,
	}
}

// Dispatch sends a transaction to the driver and waits for its answer.
//
// Validation problems and a breaker rejection (open, or a half-open probe
// already in flight) are returned before anything is journaled. Once the receipt is journaled the result is always non-nil,
// even when an error is returned. The wait is detached from ctx's
// cancellation so a caller that goes away does not cut it short.
func (s *ReceiptService) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	tx := req.Transaction
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	timeout, err := s.resolveTimeout(req.Timeout)
	if err != nil {
		return nil, err
	}

	data, echo := s.renderer.Render(tx)
	name := mailbox.ArtifactName(s.now())

	rc, err := receipt.NewReceipt(tx.Kind, receipt.Mode(s.renderer.Mode()), name, string(data))
	if err != nil {
		return nil, err
	}
	rc.TotalCents = int64(math.Round(tx.Total() * 100))

	done, err := s.breaker.Allow()
	if err != nil {
		s.recordBreaker(err)
		return nil, domainErrors.ErrDriverUnavailable
	}
	if err := s.receipts.Create(ctx, rc); err != nil {
		// nothing reached the driver; a half-open breaker reopens
		done(false)
		return nil, fmt.Errorf("journal receipt: %w", err)
	}

	bg := context.WithoutCancel(ctx)
	bg, span := tracer.Start(bg, "ReceiptService.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("receipt.id", rc.ID.String()),
		attribute.String("receipt.artifact", name),
		attribute.String("receipt.kind", string(tx.Kind)),
		attribute.Int64("correlation.timeout_ms", timeout.Milliseconds()),
	)

	log := s.logger.With().Str("receipt_id", rc.ID.String()).Str("artifact", name).Logger()
	result := &DispatchResult{Receipt: rc}

	start := time.Now()
	outcome, err := s.deliver(bg, log, name, data, echo, timeout)
	done(err == nil)
	s.recordBreaker(err)

	switch {
	case err == nil, errors.Is(err, errDriverTimeout):
	case errors.Is(err, domainErrors.ErrInboxWriteFailed):
		log.Error().Err(err).Msg("failed to write command to inbox")
		if s.metrics != nil {
			s.metrics.InboxWriteErrors.Inc()
		}
		s.writeFailed(bg, log, rc, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, "inbox write failed")
		return result, err
	default:
		span.RecordError(err)
		return result, err
	}

	result.Outcome = outcome
	s.resolve(bg, log, rc, outcome, outbox.EventReceiptPrinted)

	elapsed := time.Since(start)
	span.SetAttributes(attribute.String("correlation.outcome", outcome.State().String()))
	if s.metrics != nil {
		s.metrics.CorrelationDuration.WithLabelValues(outcome.State().String()).Observe(elapsed.Seconds())
	}
	return result, nil
}

// deliver writes the command and waits for the answer. A timed out wait is
// reported as errDriverTimeout alongside its outcome.
func (s *ReceiptService) deliver(ctx context.Context, log zerolog.Logger, name string, data []byte, echo string, timeout time.Duration) (correlation.Outcome, error) {
	if _, err := s.writer.Write(s.cfg.InboxDir, name, data); err != nil {
		return nil, err
	}
	log.Debug().Dur("timeout", timeout).Msg("command written, awaiting driver")
	o := s.awaiter.Await(ctx, name, echo, timeout)
	if o.State() == correlation.StateTimedOut {
		return o, errDriverTimeout
	}
	return o, nil
}

// Get returns a journaled receipt.
func (s *ReceiptService) Get(ctx context.Context, id uuid.UUID) (*receipt.Receipt, error) {
	return s.receipts.GetByID(ctx, id)
}

// List returns journaled receipts newest first.
func (s *ReceiptService) List(ctx context.Context, f receipt.ListFilter) ([]*receipt.Receipt, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.receipts.List(ctx, f)
}

func (s *ReceiptService) resolveTimeout(requested time.Duration) (time.Duration, error) {
	switch {
	case requested < 0:
		return 0, domainErrors.NewValidationError("timeout_ms", "must not be negative")
	case requested == 0:
		return s.cfg.DefaultTimeout, nil
	case s.cfg.MaxTimeout > 0 && requested > s.cfg.MaxTimeout:
		return 0, domainErrors.NewDomainError(
			"timeout_too_large",
			fmt.Sprintf("timeout_ms must not exceed %d", s.cfg.MaxTimeout.Milliseconds()),
			domainErrors.ErrTimeoutTooLarge,
		)
	default:
		return requested, nil
	}
}

// resolve applies an outcome to the receipt and journals it together with
// its outbox event. Journal failures are logged, not returned: the driver
// has already acted on the command.
func (s *ReceiptService) resolve(ctx context.Context, log zerolog.Logger, rc *receipt.Receipt, o correlation.Outcome, printedEvent string) {
	var (
		event string
		err   error
	)
	switch v := o.(type) {
	case correlation.Succeeded:
		event, err = printedEvent, rc.MarkPrinted()
	case correlation.Failed:
		var ts *string
		if v.Timestamp != "" {
			ts = &v.Timestamp
		}
		event, err = outbox.EventReceiptFailed, rc.MarkFailed(v.Details, ts)
		log.Warn().Str("details", v.Details).Str("tier", string(v.Tier)).Msg("driver reported an error")
	case correlation.TimedOut:
		event, err = outbox.EventReceiptTimedOut, rc.MarkTimedOut()
	}
	if err != nil {
		log.Error().Err(err).Str("outcome", o.State().String()).Msg("cannot apply outcome to receipt")
		return
	}

	s.countReceipt(rc, o.State().String())
	s.persist(ctx, log, rc, event)
}

func (s *ReceiptService) writeFailed(ctx context.Context, log zerolog.Logger, rc *receipt.Receipt, reason string) {
	if err := rc.MarkWriteFailed(reason); err != nil {
		log.Error().Err(err).Msg("cannot mark receipt write_failed")
		return
	}
	s.countReceipt(rc, string(receipt.StatusWriteFailed))
	s.persist(ctx, log, rc, outbox.EventReceiptWriteFailed)
}

func (s *ReceiptService) persist(ctx context.Context, log zerolog.Logger, rc *receipt.Receipt, event string) {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.receipts.Update(txCtx, rc); err != nil {
			return err
		}
		return s.outboxRepo.Insert(txCtx, outbox.NewReceiptEntry(rc.ID, event, receiptPayload(rc)))
	})
	if err != nil {
		log.Error().Err(err).Str("status", string(rc.Status)).Msg("failed to journal receipt outcome")
	}
}

func (s *ReceiptService) countReceipt(rc *receipt.Receipt, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ReceiptsTotal.WithLabelValues(string(rc.Kind), string(rc.Mode), outcome).Inc()
}

func (s *ReceiptService) recordBreaker(err error) {
	if s.metrics == nil {
		return
	}
	result := "success"
	switch {
	case isBreakerRejection(err):
		result = "rejected"
	case err != nil:
		result = "failure"
	}
	s.metrics.CircuitBreakerRequests.WithLabelValues(driverBreakerName, result).Inc()
}

func receiptPayload(rc *receipt.Receipt) map[string]any {
	p := map[string]any{
		"receipt_id":  rc.ID.String(),
		"kind":        string(rc.Kind),
		"mode":        string(rc.Mode),
		"artifact":    rc.ArtifactName,
		"status":      string(rc.Status),
		"total_cents": rc.TotalCents,
	}
	if rc.Details != nil {
		p["details"] = *rc.Details
	}
	if rc.ErrorTimestamp != nil {
		p["error_timestamp"] = *rc.ErrorTimestamp
	}
	return p
}
