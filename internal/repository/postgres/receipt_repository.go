package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/fiscalbridge/internal/domain/errors"
	"github.com/cassiomorais/fiscalbridge/internal/domain/receipt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const receiptColumns = `id, kind, mode, artifact_name, command, total, status, details, error_timestamp,
		        created_at, updated_at, resolved_at`

// ReceiptRepository implements receipt.Repository using PostgreSQL.
type ReceiptRepository struct {
	pool *pgxpool.Pool
}

// NewReceiptRepository creates a new ReceiptRepository.
func NewReceiptRepository(pool *pgxpool.Pool) *ReceiptRepository {
	return &ReceiptRepository{pool: pool}
}

func (r *ReceiptRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new receipt.
func (r *ReceiptRepository) Create(ctx context.Context, rc *receipt.Receipt) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO receipts (`+receiptColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rc.ID, string(rc.Kind), string(rc.Mode), rc.ArtifactName, rc.Command, formatCents(rc.TotalCents), string(rc.Status),
		rc.Details, rc.ErrorTimestamp, rc.CreatedAt, rc.UpdatedAt, rc.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// GetByID retrieves a receipt by its ID.
func (r *ReceiptRepository) GetByID(ctx context.Context, id uuid.UUID) (*receipt.Receipt, error) {
	return scanReceipt(r.db(ctx).QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id))
}

// Update persists the mutable part of a receipt.
func (r *ReceiptRepository) Update(ctx context.Context, rc *receipt.Receipt) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE receipts SET
		  status=$1, details=$2, error_timestamp=$3, updated_at=$4, resolved_at=$5
		 WHERE id=$6`,
		string(rc.Status), rc.Details, rc.ErrorTimestamp, rc.UpdatedAt, rc.ResolvedAt, rc.ID,
	)
	if err != nil {
		return fmt.Errorf("update receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrReceiptNotFound
	}
	return nil
}

// List lists receipts newest first with optional filters.
func (r *ReceiptRepository) List(ctx context.Context, f receipt.ListFilter) ([]*receipt.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}
	if f.Kind != nil {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, string(*f.Kind))
		argIdx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	return r.query(ctx, "list receipts", query, args...)
}

// ListUnsettled returns timed out receipts, and pending ones older than
// staleBefore, created after since. Oldest first.
func (r *ReceiptRepository) ListUnsettled(ctx context.Context, since, staleBefore time.Time, limit int) ([]*receipt.Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(ctx, "list unsettled receipts",
		`SELECT `+receiptColumns+` FROM receipts
		 WHERE created_at > $1
		   AND (status = $2 OR (status = $3 AND created_at < $4))
		 ORDER BY created_at ASC
		 LIMIT $5`,
		since, string(receipt.StatusTimedOut), string(receipt.StatusPending), staleBefore, limit,
	)
}

func (r *ReceiptRepository) query(ctx context.Context, op, sql string, args ...any) ([]*receipt.Receipt, error) {
	rows, err := r.db(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var receipts []*receipt.Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, rc)
	}
	return receipts, rows.Err()
}

func scanReceipt(s scanner) (*receipt.Receipt, error) {
	rc := &receipt.Receipt{}
	var kind, mode, total, status string
	err := s.Scan(
		&rc.ID, &kind, &mode, &rc.ArtifactName, &rc.Command, &total, &status, &rc.Details, &rc.ErrorTimestamp,
		&rc.CreatedAt, &rc.UpdatedAt, &rc.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrReceiptNotFound
		}
		return nil, fmt.Errorf("scan receipt: %w", err)
	}
	if rc.TotalCents, err = parseCents(total); err != nil {
		return nil, fmt.Errorf("parse receipt total: %w", err)
	}
	rc.Kind = receipt.Kind(kind)
	rc.Mode = receipt.Mode(mode)
	rc.Status = receipt.Status(status)
	return rc, nil
}
