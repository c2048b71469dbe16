package payment

import (
	"testing"

	"github.com/google/uuid"
	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMethodID = uuid.New()

func completedTransaction(t *testing.T) *Transaction {
	t.Helper()
	tx := newTestTransaction(t)
	require.NoError(t, tx.MarkCompleted(nil))
	return tx
}

func TestNewRefund_Success(t *testing.T) {
	tx := completedTransaction(t)

	r, err := NewRefund(tx, 4999, "customer request")
	require.NoError(t, err)
	assert.Equal(t, RefundPending, r.Status)
	assert.Equal(t, tx.ID, r.TransactionID)
	assert.Equal(t, tx.OrderID, r.OrderID)
	assert.Equal(t, "USD", r.Amount.Currency)
	assert.Nil(t, r.ProcessedAt)
}

func TestNewRefund_RejectsNonRefundableStates(t *testing.T) {
	for _, setup := range []func(*Transaction) error{
		func(tx *Transaction) error { return nil }, // pending
		(*Transaction).MarkProcessing,
		(*Transaction).MarkFailed,
		(*Transaction).MarkCancelled,
	} {
		tx := newTestTransaction(t)
		require.NoError(t, setup(tx))
		_, err := NewRefund(tx, 100, "test")
		assert.ErrorIs(t, err, domainErrors.ErrNotRefundable, "status %s", tx.Status)
	}
}

func TestNewRefund_AllowedOnPartiallyRefunded(t *testing.T) {
	// A transaction stays completed on partial refund; refunded is only
	// reached when the refunded total equals the amount, and at that point
	// no further refund may be created against it by the service layer.
	tx := completedTransaction(t)
	_, err := NewRefund(tx, 1000, "partial")
	require.NoError(t, err)
}

func TestNewRefund_RejectsExcessAmount(t *testing.T) {
	tx := completedTransaction(t)
	_, err := NewRefund(tx, 5000, "too much")
	assert.Error(t, err)

	var ve *domainErrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestNewRefund_RejectsNonPositiveAmount(t *testing.T) {
	tx := completedTransaction(t)
	_, err := NewRefund(tx, 0, "zero")
	assert.Error(t, err)
	_, err = NewRefund(tx, -1, "negative")
	assert.Error(t, err)
}

func TestRefund_Transitions(t *testing.T) {
	tx := completedTransaction(t)
	r, err := NewRefund(tx, 4999, "test")
	require.NoError(t, err)

	require.NoError(t, r.MarkProcessing())
	require.NoError(t, r.MarkCompleted())
	assert.Equal(t, RefundCompleted, r.Status)
	assert.NotNil(t, r.ProcessedAt)
	assert.True(t, r.IsTerminal())

	assert.ErrorIs(t, r.TransitionTo(RefundPending), domainErrors.ErrInvalidStateTransition)
	assert.ErrorIs(t, r.TransitionTo(RefundFailed), domainErrors.ErrInvalidStateTransition)
}

func TestRefund_PendingToCompleted(t *testing.T) {
	tx := completedTransaction(t)
	r, err := NewRefund(tx, 4999, "sync settlement")
	require.NoError(t, err)

	require.NoError(t, r.MarkCompleted())
	assert.Equal(t, RefundCompleted, r.Status)
}

func TestRefund_ProviderRefundIDWriteOnce(t *testing.T) {
	tx := completedTransaction(t)
	r, err := NewRefund(tx, 4999, "test")
	require.NoError(t, err)

	r.SetProviderRefundID("rf_first")
	r.SetProviderRefundID("rf_second")
	require.NotNil(t, r.ProviderRefundID)
	assert.Equal(t, "rf_first", *r.ProviderRefundID)
}
