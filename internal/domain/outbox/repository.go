package outbox

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores the receipt journal's outgoing events.
type Repository interface {
	// Insert adds an event, normally in the same transaction as the receipt
	// update it describes.
	Insert(ctx context.Context, entry *Entry) error

	// GetPending returns the oldest unpublished receipt events.
	GetPending(ctx context.Context, limit int) ([]*Entry, error)

	MarkPublished(ctx context.Context, id uuid.UUID) error

	// MarkFailed records a failed publish attempt. It reports true once the
	// entry has used up its retries and will not be offered again.
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
}
