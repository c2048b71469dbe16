package payment

import (
	"testing"
	"time"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransaction(t *testing.T) *Transaction {
	t.Helper()
	tx, err := NewTransaction("order-1", nil, testMethodID, "cardgate", Amount{Value: 4999, Currency: "USD"})
	require.NoError(t, err)
	return tx
}

func TestNewTransaction_StartsPending(t *testing.T) {
	tx := newTestTransaction(t)

	assert.Equal(t, StatusPending, tx.Status)
	assert.Equal(t, int64(4999), tx.Amount.Value)
	assert.Equal(t, "USD", tx.Amount.Currency)
	assert.Nil(t, tx.PaidAt)
	assert.Nil(t, tx.ProviderTransactionID)
}

func TestNewTransaction_Validation(t *testing.T) {
	tests := []struct {
		name     string
		orderID  string
		provider string
		amount   Amount
	}{
		{"zero amount", "order-1", "cardgate", Amount{Value: 0, Currency: "USD"}},
		{"negative amount", "order-1", "cardgate", Amount{Value: -100, Currency: "USD"}},
		{"empty currency", "order-1", "cardgate", Amount{Value: 100, Currency: ""}},
		{"bad currency code", "order-1", "cardgate", Amount{Value: 100, Currency: "DOLLARS"}},
		{"empty order", "", "cardgate", Amount{Value: 100, Currency: "USD"}},
		{"empty provider", "order-1", "", Amount{Value: 100, Currency: "USD"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTransaction(tt.orderID, nil, testMethodID, tt.provider, tt.amount)
			assert.Error(t, err)
		})
	}
}

func TestTransaction_LegalTransitions(t *testing.T) {
	tx := newTestTransaction(t)

	require.NoError(t, tx.MarkProcessing())
	assert.Equal(t, StatusProcessing, tx.Status)

	txID := "cg_123"
	require.NoError(t, tx.MarkCompleted(&txID))
	assert.Equal(t, StatusCompleted, tx.Status)
	assert.NotNil(t, tx.PaidAt)
	require.NotNil(t, tx.ProviderTransactionID)
	assert.Equal(t, "cg_123", *tx.ProviderTransactionID)

	require.NoError(t, tx.MarkRefunded())
	assert.Equal(t, StatusRefunded, tx.Status)
}

func TestTransaction_PendingToCompleted(t *testing.T) {
	// Some providers confirm before we ever observe processing.
	tx := newTestTransaction(t)
	require.NoError(t, tx.MarkCompleted(nil))
	assert.Equal(t, StatusCompleted, tx.Status)
	assert.NotNil(t, tx.PaidAt)
}

func TestTransaction_TerminalStatesAreFinal(t *testing.T) {
	tests := []struct {
		name  string
		setup func(tx *Transaction)
	}{
		{"failed", func(tx *Transaction) { _ = tx.MarkFailed() }},
		{"cancelled", func(tx *Transaction) { _ = tx.MarkCancelled() }},
		{"refunded", func(tx *Transaction) {
			_ = tx.MarkCompleted(nil)
			_ = tx.MarkRefunded()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newTestTransaction(t)
			tt.setup(tx)
			require.True(t, tx.IsTerminal())

			for _, next := range []TransactionStatus{StatusPending, StatusProcessing, StatusCompleted} {
				err := tx.TransitionTo(next)
				assert.ErrorIs(t, err, domainErrors.ErrInvalidStateTransition)
			}
		})
	}
}

func TestTransaction_CompletedCannotGoBack(t *testing.T) {
	tx := newTestTransaction(t)
	require.NoError(t, tx.MarkCompleted(nil))

	assert.ErrorIs(t, tx.TransitionTo(StatusPending), domainErrors.ErrInvalidStateTransition)
	assert.ErrorIs(t, tx.TransitionTo(StatusProcessing), domainErrors.ErrInvalidStateTransition)
	assert.ErrorIs(t, tx.TransitionTo(StatusFailed), domainErrors.ErrInvalidStateTransition)
}

func TestTransaction_ProviderTransactionIDWriteOnce(t *testing.T) {
	tx := newTestTransaction(t)
	tx.SetProviderTransactionID("cg_first")
	tx.SetProviderTransactionID("cg_replayed")

	require.NotNil(t, tx.ProviderTransactionID)
	assert.Equal(t, "cg_first", *tx.ProviderTransactionID)
}

func TestTransaction_MarkCompletedDoesNotRelink(t *testing.T) {
	tx := newTestTransaction(t)
	tx.SetProviderTransactionID("cg_original")

	other := "cg_other"
	require.NoError(t, tx.MarkCompleted(&other))
	assert.Equal(t, "cg_original", *tx.ProviderTransactionID)
}

func TestTransaction_IsExpired(t *testing.T) {
	tx := newTestTransaction(t)
	assert.False(t, tx.IsExpired(time.Now()))

	past := time.Now().Add(-time.Minute)
	tx.ExpiresAt = &past
	assert.True(t, tx.IsExpired(time.Now()))
}

func TestAmount_String(t *testing.T) {
	assert.Equal(t, "49.99 USD", Amount{Value: 4999, Currency: "USD"}.String())
	assert.Equal(t, "0.05 EUR", Amount{Value: 5, Currency: "EUR"}.String())
}
