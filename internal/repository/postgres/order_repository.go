package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/oakmart/payments/internal/domain/order"
)

// OrderRepository implements order.Service against the storefront's orders
// table. The engine only reads the payment-relevant fields and writes the
// payment status; everything else about orders belongs to the storefront.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// GetOrder retrieves an order.
func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (*order.Order, error) {
	o := &order.Order{}
	var status string
	err := r.db(ctx).QueryRow(ctx,
		`SELECT id, user_id, total_amount, currency, payment_status, created_at
		 FROM orders WHERE id = $1`, orderID,
	).Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.Currency, &status, &o.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainErrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.PaymentStatus = order.PaymentStatus(status)
	return o, nil
}

// SetPaymentStatus updates the order's payment status.
func (r *OrderRepository) SetPaymentStatus(ctx context.Context, orderID string, status order.PaymentStatus) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE orders SET payment_status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now(), orderID,
	)
	if err != nil {
		return fmt.Errorf("set order payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrOrderNotFound
	}
	return nil
}
