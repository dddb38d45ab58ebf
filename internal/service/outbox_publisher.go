package service

import (
	"context"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/domain/outbox"
	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// EventPublisher delivers one outbox event downstream.
type EventPublisher interface {
	Publish(ctx context.Context, aggregateID, eventType string, data map[string]any) error
}

// OutboxPublisher relays pending outbox entries to the event stream.
type OutboxPublisher struct {
	outboxRepo outbox.Repository
	txManager  TransactionManager
	publisher  EventPublisher
	stream     string
	batchSize  int
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewOutboxPublisher creates an OutboxPublisher. stream only labels metrics.
func NewOutboxPublisher(
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	publisher EventPublisher,
	stream string,
	batchSize int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboxPublisher {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &OutboxPublisher{
		outboxRepo: outboxRepo,
		txManager:  txManager,
		publisher:  publisher,
		stream:     stream,
		batchSize:  batchSize,
		metrics:    metrics,
		logger:     observability.Component(logger, "outbox_publisher"),
	}
}

// Run publishes every interval until ctx is done.
func (p *OutboxPublisher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if _, err := p.PublishPending(ctx); err != nil {
			p.logger.Error().Err(err).Msg("outbox processor error")
		}
	}
}

// PublishPending publishes one batch inside a transaction so concurrent
// workers skip rows already locked by another. It returns how many entries
// were published.
func (p *OutboxPublisher) PublishPending(ctx context.Context) (int, error) {
	published := 0
	err := p.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := p.outboxRepo.GetPending(txCtx, p.batchSize)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := p.publisher.Publish(ctx, entry.AggregateID.String(), entry.EventType, entry.Payload); err != nil {
				p.logger.Error().Err(err).Str("outbox_id", entry.ID.String()).Msg("failed to publish outbox event")
				p.count("failed")
				dead, err := p.outboxRepo.MarkFailed(txCtx, entry.ID)
				if err != nil {
					return err
				}
				if dead {
					p.count("dead_lettered")
					p.logger.Error().
						Str("outbox_id", entry.ID.String()).
						Str("receipt_id", entry.AggregateID.String()).
						Str("event_type", entry.EventType).
						Int("attempts", entry.RetryCount+1).
						Msg("receipt event dead-lettered, downstream will not see it")
				}
				continue
			}
			if err := p.outboxRepo.MarkPublished(txCtx, entry.ID); err != nil {
				return err
			}
			p.count("success")
			published++
		}
		return nil
	})
	return published, err
}

func (p *OutboxPublisher) count(status string) {
	if p.metrics != nil {
		p.metrics.WorkerMessagesProcessed.WithLabelValues(p.stream, status).Inc()
	}
}
