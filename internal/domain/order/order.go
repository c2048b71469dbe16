package order

import (
	"context"
	"time"
)

// PaymentStatus is the order-side view of payment state, owned by the
// storefront's order service. The payment engine only ever moves it to paid
// or refunded.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Order is the subset of the storefront order the payment engine needs.
type Order struct {
	ID            string
	UserID        *string
	TotalAmount   int64 // minor units
	Currency      string
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
}

// Service is the order collaborator consumed by the payment engine. Order
// creation and item/pricing rules live with the storefront, not here.
type Service interface {
	// GetOrder retrieves an order
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// SetPaymentStatus updates the order's payment status
	SetPaymentStatus(ctx context.Context, orderID string, status PaymentStatus) error
}
