package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/oakmart/payments/internal/domain/order"
	"github.com/oakmart/payments/internal/domain/payment"
	"github.com/oakmart/payments/internal/providers"
	"github.com/oakmart/payments/internal/testutil"
	"github.com/oakmart/payments/pkg/retry"
)

func setupReconciler(f *ledgerFixture) *Reconciler {
	return NewReconciler(f.txRepo, f.refundRepo, f.registry, f.svc, ReconcilerConfig{
		RefundStuckAfter: 15 * time.Minute,
		BatchSize:        10,
		Retry:            retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, nil, zerolog.Nop())
}

func expiredTransaction(f *ledgerFixture, orderID string, providerTxID string) *payment.Transaction {
	method := f.seedOrderAndMethod(orderID, 4999)
	tx := testutil.NewTestTransaction(orderID, "mockpay", method.ID, 4999, "USD")
	expired := time.Now().Add(-time.Hour)
	tx.ExpiresAt = &expired
	if providerTxID != "" {
		tx.SetProviderTransactionID(providerTxID)
	}
	f.txRepo.Add(tx)
	return tx
}

func TestReconciler_LostCompletionWebhook(t *testing.T) {
	// The customer paid but the webhook never arrived. The poll finds the
	// provider settled it and completes the payment.
	f := setupLedger(providers.WithVerifyStatus(providers.StatusCompleted))
	r := setupReconciler(f)
	tx := expiredTransaction(f, "ord-1", "mp_1")

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, payment.StatusCompleted, f.txRepo.Get(tx.ID).Status)
	assert.Equal(t, order.PaymentStatusPaid, f.orders.Get("ord-1").PaymentStatus)
}

func TestReconciler_ProviderSaysFailed(t *testing.T) {
	f := setupLedger(providers.WithVerifyStatus(providers.StatusFailed))
	r := setupReconciler(f)
	tx := expiredTransaction(f, "ord-1", "mp_1")

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, f.txRepo.Get(tx.ID).Status)
	assert.Equal(t, order.PaymentStatusUnpaid, f.orders.Get("ord-1").PaymentStatus)
}

func TestReconciler_ExpiredStillPending_Cancelled(t *testing.T) {
	f := setupLedger(providers.WithVerifyStatus(providers.StatusPending))
	r := setupReconciler(f)
	tx := expiredTransaction(f, "ord-1", "mp_1")

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCancelled, f.txRepo.Get(tx.ID).Status)
}

func TestReconciler_NoProviderReference_Cancelled(t *testing.T) {
	f := setupLedger()
	r := setupReconciler(f)
	tx := expiredTransaction(f, "ord-1", "")

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCancelled, f.txRepo.Get(tx.ID).Status)
}

func TestReconciler_ProviderDown_TransactionUntouched(t *testing.T) {
	f := setupLedger(providers.WithVerifyError(domainErrors.ErrProviderUnavailable))
	r := setupReconciler(f)
	tx := expiredTransaction(f, "ord-1", "mp_1")

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, payment.StatusPending, f.txRepo.Get(tx.ID).Status)
}

func TestReconciler_RaceWithLateWebhook(t *testing.T) {
	// The webhook lands between the poll and the apply. Both go through
	// ApplyEvent, so the second write is a no-op.
	f := setupLedger(providers.WithVerifyStatus(providers.StatusCompleted))
	r := setupReconciler(f)
	tx := expiredTransaction(f, "ord-1", "mp_1")

	require.NoError(t, f.svc.ApplyEvent(context.Background(), "mockpay", &providers.Event{
		Kind: providers.EventPaymentCompleted, TransactionID: tx.ID.String(),
	}))

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, f.txRepo.Get(tx.ID).Status)
	assert.Equal(t, 1, f.orders.StatusCalls["ord-1"])
}

func TestReconciler_TerminalTransactionsSkipped(t *testing.T) {
	f := setupLedger(providers.WithVerifyStatus(providers.StatusCompleted))
	r := setupReconciler(f)
	_ = f.seedCompleted("ord-1", 4999)

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// stuckRefund seeds a refund against a completed transaction and backdates it
// past the stuck cutoff. An empty providerRefundID leaves the refund pending
// with no provider reference.
func stuckRefund(t *testing.T, f *ledgerFixture, tx *payment.Transaction, providerRefundID string) *payment.Refund {
	t.Helper()
	r, err := payment.NewRefund(tx, tx.Amount.Value, "customer request")
	require.NoError(t, err)
	if providerRefundID != "" {
		require.NoError(t, r.MarkProcessing())
		r.SetProviderRefundID(providerRefundID)
	}
	r.UpdatedAt = time.Now().Add(-time.Hour)
	f.refundRepo.Add(r)
	return r
}

func TestReconciler_RefundConfirmedAtProvider(t *testing.T) {
	// The refund went through on the provider side but the confirmation
	// webhook never arrived. The poll settles it.
	f := setupLedger(providers.WithRefundStatus(providers.StatusCompleted))
	r := setupReconciler(f)
	tx := f.seedCompleted("ord-1", 4999)
	rf := stuckRefund(t, f, tx, "mp_ref_1")

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.refundRepo.GetByID(context.Background(), rf.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.RefundCompleted, got.Status)
	assert.Equal(t, payment.StatusRefunded, f.txRepo.Get(tx.ID).Status)
	assert.Equal(t, order.PaymentStatusRefunded, f.orders.Get("ord-1").PaymentStatus)
}

func TestReconciler_RefundClosedAtProvider_Failed(t *testing.T) {
	f := setupLedger(providers.WithRefundStatus(providers.StatusFailed))
	r := setupReconciler(f)
	tx := f.seedCompleted("ord-1", 4999)
	rf := stuckRefund(t, f, tx, "mp_ref_1")

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	got, err := f.refundRepo.GetByID(context.Background(), rf.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.RefundFailed, got.Status)
	assert.Equal(t, payment.StatusCompleted, f.txRepo.Get(tx.ID).Status)
}

func TestReconciler_RefundWithoutProviderReference_AgedOut(t *testing.T) {
	// The provider call never returned a refund reference, so there is
	// nothing to query. Aging it out to failed releases the reservation.
	f := setupLedger()
	r := setupReconciler(f)
	tx := f.seedCompleted("ord-1", 4999)
	rf := stuckRefund(t, f, tx, "")

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.refundRepo.GetByID(context.Background(), rf.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.RefundFailed, got.Status)

	reserved, err := f.refundRepo.SumReserved(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reserved)
}

func TestReconciler_RefundStillProcessingAtProvider_Untouched(t *testing.T) {
	f := setupLedger(providers.WithRefundStatus(providers.StatusPending))
	r := setupReconciler(f)
	tx := f.seedCompleted("ord-1", 4999)
	rf := stuckRefund(t, f, tx, "mp_ref_1")

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := f.refundRepo.GetByID(context.Background(), rf.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.RefundProcessing, got.Status)
}

func TestReconciler_FreshRefundNotPolled(t *testing.T) {
	// A refund inside the stuck window belongs to the webhook path, not the
	// poll.
	f := setupLedger(providers.WithRefundStatus(providers.StatusCompleted))
	r := setupReconciler(f)
	tx := f.seedCompleted("ord-1", 4999)
	rf := stuckRefund(t, f, tx, "mp_ref_1")
	rf.UpdatedAt = time.Now()

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, payment.RefundProcessing, rf.Status)
}
