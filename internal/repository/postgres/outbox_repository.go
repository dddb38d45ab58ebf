package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/domain/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxRepository keeps receipt journal events until the worker relays
// them. Only rows of its own aggregate type are ever fetched.
type OutboxRepository struct {
	pool          *pgxpool.Pool
	aggregateType string
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool, aggregateType: outbox.AggregateReceipt}
}

func (r *OutboxRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *OutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if entry.AggregateType != r.aggregateType {
		return fmt.Errorf("insert outbox entry: aggregate type %q, want %q", entry.AggregateType, r.aggregateType)
	}
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", entry.EventType, err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, status, retry_count, max_retries, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.AggregateType, entry.AggregateID, entry.EventType, payload,
		string(entry.Status), entry.RetryCount, entry.MaxRetries, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert %s for receipt %s: %w", entry.EventType, entry.AggregateID, err)
	}
	return nil
}

// GetPending locks the oldest pending receipt events. Events of one receipt
// come out in the order they were journaled.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, aggregate_type, aggregate_id, event_type, payload, status, retry_count, max_retries, created_at, published_at
		 FROM outbox
		 WHERE status = $1 AND aggregate_type = $2
		 ORDER BY created_at ASC, id ASC
		 LIMIT $3
		 FOR UPDATE SKIP LOCKED`,
		string(outbox.StatusPending), r.aggregateType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get pending receipt events: %w", err)
	}
	defer rows.Close()

	var entries []*outbox.Entry
	for rows.Next() {
		e := &outbox.Entry{}
		var (
			payload []byte
			status  string
		)
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &payload, &status, &e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan receipt event: %w", err)
		}
		e.Status = outbox.Status(status)
		e.Payload = make(map[string]any)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal %s payload: %w", e.EventType, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox SET status = $1, published_at = $2 WHERE id = $3`,
		string(outbox.StatusPublished), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark receipt event published: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	var status string
	err := r.db(ctx).QueryRow(ctx,
		`UPDATE outbox SET retry_count = retry_count + 1,
		        status = CASE WHEN retry_count + 1 >= max_retries THEN $1 ELSE $2 END
		 WHERE id = $3
		 RETURNING status`,
		string(outbox.StatusFailed), string(outbox.StatusPending), id,
	).Scan(&status)
	if err != nil {
		return false, fmt.Errorf("mark receipt event failed: %w", err)
	}
	return outbox.Status(status) == outbox.StatusFailed, nil
}
