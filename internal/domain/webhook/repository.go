package webhook

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists webhook events. Rows are append-only; only the
// processed flag and error message are ever updated.
type Repository interface {
	// Insert stores an event. Returns errors.ErrDuplicateWebhook if an event
	// with the same dedup key already exists: that unique constraint is the
	// idempotency gate for the ingestion pipeline.
	Insert(ctx context.Context, e *Event) error

	// GetByDedupKey retrieves an event by its dedup key
	GetByDedupKey(ctx context.Context, key string) (*Event, error)

	// Update persists the processed flag, event type, and error message
	Update(ctx context.Context, e *Event) error

	// ListUnprocessed returns failed events for operator review
	ListUnprocessed(ctx context.Context, limit int) ([]*Event, error)

	// GetByID retrieves an event by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
}
