package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/oakmart/payments/internal/domain/payment"
)

const refundColumns = `id, transaction_id, order_id, user_id, amount, currency, reason,
	        provider_refund_id, status, processed_at, created_at, updated_at`

// RefundRepository implements payment.RefundRepository using PostgreSQL.
type RefundRepository struct {
	pool *pgxpool.Pool
}

// NewRefundRepository creates a new RefundRepository.
func NewRefundRepository(pool *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{pool: pool}
}

func (r *RefundRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Create inserts a new refund.
func (r *RefundRepository) Create(ctx context.Context, rf *payment.Refund) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO refunds
		 (id, transaction_id, order_id, user_id, amount, currency, reason,
		  provider_refund_id, status, processed_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rf.ID, rf.TransactionID, rf.OrderID, rf.UserID, rf.Amount.Value, rf.Amount.Currency, rf.Reason,
		rf.ProviderRefundID, string(rf.Status), rf.ProcessedAt, rf.CreatedAt, rf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// GetByID retrieves a refund by its ID.
func (r *RefundRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Refund, error) {
	return r.scanRefund(r.db(ctx).QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id))
}

// GetByProviderRefundID retrieves a refund by the provider's reference.
func (r *RefundRepository) GetByProviderRefundID(ctx context.Context, provider, providerRefundID string) (*payment.Refund, error) {
	return r.scanRefund(r.db(ctx).QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refunds r
		 WHERE r.provider_refund_id = $2
		   AND EXISTS (SELECT 1 FROM transactions t WHERE t.id = r.transaction_id AND t.provider = $1)`,
		provider, providerRefundID))
}

// ListByTransaction lists all refunds for a transaction.
func (r *RefundRepository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*payment.Refund, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+refundColumns+` FROM refunds
		 WHERE transaction_id = $1 ORDER BY created_at ASC`, transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*payment.Refund
	for rows.Next() {
		rf, err := r.scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, rf)
	}
	return refunds, rows.Err()
}

// SumReserved sums refund amounts that are completed or still in flight.
// Failed refunds release their reservation.
func (r *RefundRepository) SumReserved(ctx context.Context, transactionID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM refunds
		 WHERE transaction_id = $1 AND status != 'failed'`, transactionID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum reserved refunds: %w", err)
	}
	return sum, nil
}

// SumCompleted sums completed refund amounts for a transaction.
func (r *RefundRepository) SumCompleted(ctx context.Context, transactionID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM refunds
		 WHERE transaction_id = $1 AND status = 'completed'`, transactionID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum completed refunds: %w", err)
	}
	return sum, nil
}

// ListStuck lists non-terminal refunds not updated since the cutoff, oldest
// first.
func (r *RefundRepository) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Refund, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+refundColumns+` FROM refunds
		 WHERE status IN ('pending', 'processing') AND updated_at < $1
		 ORDER BY created_at ASC LIMIT $2`, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stuck refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*payment.Refund
	for rows.Next() {
		rf, err := r.scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, rf)
	}
	return refunds, rows.Err()
}

// Update updates an existing refund. The provider reference is write-once.
func (r *RefundRepository) Update(ctx context.Context, rf *payment.Refund) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE refunds SET
		  status=$1, provider_refund_id=COALESCE(provider_refund_id, $2),
		  processed_at=$3, updated_at=$4
		 WHERE id=$5`,
		string(rf.Status), rf.ProviderRefundID, rf.ProcessedAt, rf.UpdatedAt, rf.ID,
	)
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrRefundNotFound
	}
	return nil
}

func (r *RefundRepository) scanRefund(s scanner) (*payment.Refund, error) {
	rf := &payment.Refund{}
	var status string
	err := s.Scan(
		&rf.ID, &rf.TransactionID, &rf.OrderID, &rf.UserID, &rf.Amount.Value, &rf.Amount.Currency, &rf.Reason,
		&rf.ProviderRefundID, &status, &rf.ProcessedAt, &rf.CreatedAt, &rf.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainErrors.ErrRefundNotFound
		}
		return nil, fmt.Errorf("scan refund: %w", err)
	}
	rf.Status = payment.RefundStatus(status)
	return rf, nil
}
