package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/oakmart/payments/internal/domain/errors"
)

// RefundStatus represents the refund status in the state machine
type RefundStatus string

const (
	RefundPending    RefundStatus = "pending"
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
	RefundFailed     RefundStatus = "failed"
)

// Refund represents a full or partial reversal of a completed transaction.
type Refund struct {
	ID               uuid.UUID
	TransactionID    uuid.UUID
	OrderID          string
	UserID           *uuid.UUID
	Amount           Amount
	Reason           string
	ProviderRefundID *string
	Status           RefundStatus
	ProcessedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewRefund creates a refund against a transaction. The caller is responsible
// for checking the parent transaction state and the remaining refundable
// amount under a row lock; this constructor only validates the shape.
func NewRefund(tx *Transaction, amount int64, reason string) (*Refund, error) {
	if tx.Status != StatusCompleted && tx.Status != StatusRefunded {
		return nil, errors.NewDomainError(
			"not_refundable",
			"cannot refund transaction in status "+string(tx.Status),
			errors.ErrNotRefundable,
		)
	}
	a := Amount{Value: amount, Currency: tx.Amount.Currency}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if amount > tx.Amount.Value {
		return nil, errors.NewValidationError("amount", "exceeds transaction amount")
	}

	now := time.Now()
	return &Refund{
		ID:            uuid.New(),
		TransactionID: tx.ID,
		OrderID:       tx.OrderID,
		UserID:        tx.UserID,
		Amount:        a,
		Reason:        reason,
		Status:        RefundPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// CanTransitionTo checks if the refund can transition to the given status
func (r *Refund) CanTransitionTo(newStatus RefundStatus) bool {
	transitions := map[RefundStatus][]RefundStatus{
		RefundPending: {
			RefundProcessing,
			RefundCompleted, // Card gateways settle refunds synchronously
			RefundFailed,
		},
		RefundProcessing: {
			RefundCompleted,
			RefundFailed,
		},
		RefundCompleted: {}, // Terminal state
		RefundFailed:    {}, // Terminal state
	}

	allowed, exists := transitions[r.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo transitions the refund to a new status
func (r *Refund) TransitionTo(newStatus RefundStatus) error {
	if !r.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition refund from "+string(r.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}

	r.Status = newStatus
	r.UpdatedAt = time.Now()

	if newStatus == RefundCompleted {
		now := time.Now()
		r.ProcessedAt = &now
	}

	return nil
}

// MarkProcessing transitions the refund to processing status
func (r *Refund) MarkProcessing() error {
	return r.TransitionTo(RefundProcessing)
}

// MarkCompleted transitions the refund to completed status
func (r *Refund) MarkCompleted() error {
	return r.TransitionTo(RefundCompleted)
}

// MarkFailed transitions the refund to failed status
func (r *Refund) MarkFailed() error {
	return r.TransitionTo(RefundFailed)
}

// SetProviderRefundID links the provider's refund reference. Write-once.
func (r *Refund) SetProviderRefundID(id string) {
	if r.ProviderRefundID == nil {
		r.ProviderRefundID = &id
		r.UpdatedAt = time.Now()
	}
}

// IsTerminal checks if the refund is in a terminal state
func (r *Refund) IsTerminal() bool {
	return r.Status == RefundCompleted || r.Status == RefundFailed
}
