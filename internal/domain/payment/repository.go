package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter filters transaction listings.
type ListFilter struct {
	OrderID   *string
	Status    *TransactionStatus
	Provider  *string
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// TransactionRepository persists transactions.
type TransactionRepository interface {
	// Create inserts a new transaction
	Create(ctx context.Context, t *Transaction) error

	// GetByID retrieves a transaction by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// GetByProviderTransactionID retrieves a transaction by the provider's reference
	GetByProviderTransactionID(ctx context.Context, provider, providerTxID string) (*Transaction, error)

	// Lock retrieves a transaction with a row-level lock (SELECT ... FOR UPDATE).
	// Must be called inside a transaction managed by the TxManager.
	Lock(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// Update updates an existing transaction
	Update(ctx context.Context, t *Transaction) error

	// List lists transactions with optional filters
	List(ctx context.Context, f ListFilter) ([]*Transaction, error)

	// ListStuck returns non-terminal transactions whose payment window lapsed
	// before the cutoff. Used by the reconciliation worker.
	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error)
}

// RefundRepository persists refunds.
type RefundRepository interface {
	// Create inserts a new refund
	Create(ctx context.Context, r *Refund) error

	// GetByID retrieves a refund by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*Refund, error)

	// GetByProviderRefundID retrieves a refund by the provider's reference
	GetByProviderRefundID(ctx context.Context, provider, providerRefundID string) (*Refund, error)

	// ListByTransaction lists all refunds for a transaction
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*Refund, error)

	// SumReserved returns the sum of refund amounts that are completed or
	// still in flight (pending/processing) for a transaction.
	SumReserved(ctx context.Context, transactionID uuid.UUID) (int64, error)

	// SumCompleted returns the sum of completed refund amounts for a transaction
	SumCompleted(ctx context.Context, transactionID uuid.UUID) (int64, error)

	// ListStuck returns non-terminal refunds not updated since the cutoff.
	// Used by the reconciliation worker.
	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]*Refund, error)

	// Update updates an existing refund
	Update(ctx context.Context, r *Refund) error
}

// MethodRepository reads payment methods.
type MethodRepository interface {
	// GetByCode retrieves a method by its checkout code
	GetByCode(ctx context.Context, code string) (*Method, error)

	// GetByID retrieves a method by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*Method, error)

	// ListActive lists active methods ordered by sort order
	ListActive(ctx context.Context) ([]*Method, error)
}
