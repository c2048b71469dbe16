package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/payments/internal/domain/order"
	"github.com/oakmart/payments/internal/domain/payment"
)

func NewTestMethod(code, provider string) *payment.Method {
	now := time.Now()
	return &payment.Method{
		ID:          uuid.New(),
		Code:        code,
		Provider:    provider,
		DisplayName: code,
		Active:      true,
		SortOrder:   1,
		Config:      map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func NewTestOrder(id string, amount int64, currency string) *order.Order {
	return &order.Order{
		ID:            id,
		TotalAmount:   amount,
		Currency:      currency,
		PaymentStatus: order.PaymentStatusUnpaid,
		CreatedAt:     time.Now(),
	}
}

func NewTestTransaction(orderID, provider string, methodID uuid.UUID, amount int64, currency string) *payment.Transaction {
	now := time.Now()
	expires := now.Add(2 * time.Hour)
	return &payment.Transaction{
		ID:        uuid.New(),
		OrderID:   orderID,
		MethodID:  methodID,
		Amount:    payment.Amount{Value: amount, Currency: currency},
		Status:    payment.StatusPending,
		Provider:  provider,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: &expires,
	}
}

func NewCompletedTransaction(orderID, provider string, methodID uuid.UUID, amount int64, currency string) *payment.Transaction {
	t := NewTestTransaction(orderID, provider, methodID, amount, currency)
	t.Status = payment.StatusCompleted
	ptxID := provider + "_tx_" + uuid.New().String()[:8]
	t.ProviderTransactionID = &ptxID
	paidAt := time.Now()
	t.PaidAt = &paidAt
	return t
}

func UUIDPtr(id uuid.UUID) *uuid.UUID {
	return &id
}

func Int64Ptr(v int64) *int64 {
	return &v
}
