package payment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oakmart/payments/internal/domain/errors"
)

// TransactionStatus represents the transaction status in the state machine
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusCancelled  TransactionStatus = "cancelled"
	StatusRefunded   TransactionStatus = "refunded"
)

// Transaction is the authoritative record of one attempted payment for one
// order. It is owned end-to-end by the ledger; provider adapters never hold
// transaction state.
type Transaction struct {
	ID                    uuid.UUID
	OrderID               string
	UserID                *uuid.UUID // nil for guest checkout
	MethodID              uuid.UUID
	Amount                Amount
	Status                TransactionStatus
	Provider              string
	ProviderTransactionID *string
	ProviderOrderID       *string
	PaymentURL            *string
	QRCodeURL             *string
	PaymentData           map[string]any
	CreatedAt             time.Time
	UpdatedAt             time.Time
	PaidAt                *time.Time
	ExpiresAt             *time.Time
}

// Amount is a monetary amount in the smallest currency unit (e.g. cents).
type Amount struct {
	Value    int64
	Currency string
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	whole := a.Value / 100
	frac := a.Value % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, a.Currency)
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	return validateAmount(a)
}

// NewTransaction creates a new transaction in pending state.
func NewTransaction(orderID string, userID *uuid.UUID, methodID uuid.UUID, provider string, amount Amount) (*Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, errors.NewValidationError("order_id", "cannot be empty")
	}
	if provider == "" {
		return nil, errors.NewValidationError("provider", "cannot be empty")
	}

	now := time.Now()
	return &Transaction{
		ID:          uuid.New(),
		OrderID:     orderID,
		UserID:      userID,
		MethodID:    methodID,
		Amount:      amount,
		Status:      StatusPending,
		Provider:    provider,
		PaymentData: make(map[string]any),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CanTransitionTo checks if the transaction can transition to the given status
func (t *Transaction) CanTransitionTo(newStatus TransactionStatus) bool {
	transitions := map[TransactionStatus][]TransactionStatus{
		StatusPending: {
			StatusProcessing,
			StatusCompleted, // Providers may confirm before we observe processing
			StatusFailed,
			StatusCancelled,
		},
		StatusProcessing: {
			StatusCompleted,
			StatusFailed,
			StatusCancelled,
		},
		StatusCompleted: {
			StatusRefunded,
		},
		StatusFailed:    {}, // Terminal state
		StatusCancelled: {}, // Terminal state
		StatusRefunded:  {}, // Terminal state
	}

	allowedTransitions, exists := transitions[t.Status]
	if !exists {
		return false
	}

	for _, allowed := range allowedTransitions {
		if allowed == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo transitions the transaction to a new status
func (t *Transaction) TransitionTo(newStatus TransactionStatus) error {
	if !t.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(t.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}

	t.Status = newStatus
	t.UpdatedAt = time.Now()

	if newStatus == StatusCompleted {
		now := time.Now()
		t.PaidAt = &now
	}

	return nil
}

// MarkProcessing transitions the transaction to processing status
func (t *Transaction) MarkProcessing() error {
	return t.TransitionTo(StatusProcessing)
}

// MarkCompleted transitions the transaction to completed status and links the
// provider's transaction reference. The reference is write-once: a webhook
// replay carrying a different reference must not re-link the transaction.
func (t *Transaction) MarkCompleted(providerTxID *string) error {
	if err := t.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	if providerTxID != nil && t.ProviderTransactionID == nil {
		t.ProviderTransactionID = providerTxID
	}
	return nil
}

// MarkFailed transitions the transaction to failed status
func (t *Transaction) MarkFailed() error {
	return t.TransitionTo(StatusFailed)
}

// MarkCancelled transitions the transaction to cancelled status
func (t *Transaction) MarkCancelled() error {
	return t.TransitionTo(StatusCancelled)
}

// MarkRefunded transitions the transaction to refunded status
func (t *Transaction) MarkRefunded() error {
	return t.TransitionTo(StatusRefunded)
}

// SetProviderTransactionID links the provider's reference. Write-once.
func (t *Transaction) SetProviderTransactionID(id string) {
	if t.ProviderTransactionID == nil {
		t.ProviderTransactionID = &id
		t.UpdatedAt = time.Now()
	}
}

// IsTerminal checks if the transaction is in a terminal state
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusCompleted ||
		t.Status == StatusFailed ||
		t.Status == StatusCancelled ||
		t.Status == StatusRefunded
}

// IsExpired reports whether the transaction's payment window has lapsed.
func (t *Transaction) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

func validateAmount(amount Amount) error {
	if amount.Value <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if amount.Currency == "" {
		return errors.NewValidationError("currency", "cannot be empty")
	}
	// Simple currency validation (3-letter code)
	if len(amount.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}
