package receipt

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows a journal listing.
type ListFilter struct {
	Status *Status
	Kind   *Kind
	Limit  int
	Offset int
}

// Repository persists the receipt journal.
type Repository interface {
	// Create inserts a new receipt
	Create(ctx context.Context, r *Receipt) error

	// GetByID returns a receipt or errors.ErrReceiptNotFound
	GetByID(ctx context.Context, id uuid.UUID) (*Receipt, error)

	// Update persists status, details and timestamps
	Update(ctx context.Context, r *Receipt) error

	// List returns receipts newest first
	List(ctx context.Context, filter ListFilter) ([]*Receipt, error)

	// ListUnsettled returns receipts created after since that still await a
	// driver result, oldest first: every timed out one, and pending ones
	// created before staleBefore whose dispatch never finished
	ListUnsettled(ctx context.Context, since, staleBefore time.Time, limit int) ([]*Receipt, error)
}
