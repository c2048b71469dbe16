package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/oakmart/payments/internal/domain/payment"
)

// allowedSortColumns is a whitelist of columns valid for ORDER BY.
var allowedSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"amount":     "amount",
	"status":     "status",
}

const transactionColumns = `id, order_id, user_id, method_id, amount, currency, status,
	        provider, provider_transaction_id, provider_order_id, payment_url, qr_code_url,
	        payment_data, created_at, updated_at, paid_at, expires_at`

// TransactionRepository implements payment.TransactionRepository using PostgreSQL.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func (r *TransactionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new transaction.
func (r *TransactionRepository) Create(ctx context.Context, t *payment.Transaction) error {
	paymentData, err := json.Marshal(t.PaymentData)
	if err != nil {
		return fmt.Errorf("marshal payment data: %w", err)
	}

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO transactions
		 (id, order_id, user_id, method_id, amount, currency, status,
		  provider, provider_transaction_id, provider_order_id, payment_url, qr_code_url,
		  payment_data, created_at, updated_at, paid_at, expires_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		t.ID, t.OrderID, t.UserID, t.MethodID, t.Amount.Value, t.Amount.Currency, string(t.Status),
		t.Provider, t.ProviderTransactionID, t.ProviderOrderID, t.PaymentURL, t.QRCodeURL,
		paymentData, t.CreatedAt, t.UpdatedAt, t.PaidAt, t.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.NewDomainError("duplicate_provider_reference",
				"provider transaction reference already recorded", domainErrors.ErrInvalidInput)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by its ID.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

// GetByProviderTransactionID retrieves a transaction by the provider's reference.
func (r *TransactionRepository) GetByProviderTransactionID(ctx context.Context, provider, providerTxID string) (*payment.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE provider = $1 AND provider_transaction_id = $2`, provider, providerTxID))
}

// Lock retrieves a transaction with SELECT ... FOR UPDATE. Concurrent
// writers for the same payment block here until the holder commits.
func (r *TransactionRepository) Lock(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
}

// Update updates an existing transaction. The provider reference is only
// written when it is not already set.
func (r *TransactionRepository) Update(ctx context.Context, t *payment.Transaction) error {
	paymentData, err := json.Marshal(t.PaymentData)
	if err != nil {
		return fmt.Errorf("marshal payment data: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE transactions SET
		  status=$1,
		  provider_transaction_id=COALESCE(provider_transaction_id, $2),
		  provider_order_id=COALESCE(provider_order_id, $3),
		  payment_url=$4, qr_code_url=$5, payment_data=$6,
		  updated_at=$7, paid_at=$8, expires_at=$9
		 WHERE id=$10`,
		string(t.Status), t.ProviderTransactionID, t.ProviderOrderID,
		t.PaymentURL, t.QRCodeURL, paymentData,
		t.UpdatedAt, t.PaidAt, t.ExpiresAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrTransactionNotFound
	}
	return nil
}

// List lists transactions with optional filters.
func (r *TransactionRepository) List(ctx context.Context, f payment.ListFilter) ([]*payment.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.OrderID != nil {
		query += fmt.Sprintf(" AND order_id = $%d", argIdx)
		args = append(args, *f.OrderID)
		argIdx++
	}
	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}
	if f.Provider != nil {
		query += fmt.Sprintf(" AND provider = $%d", argIdx)
		args = append(args, *f.Provider)
		argIdx++
	}

	sortBy := "created_at"
	if col, ok := allowedSortColumns[f.SortBy]; ok {
		sortBy = col
	}
	sortOrder := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		sortOrder = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortBy, sortOrder)

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*payment.Transaction
	for rows.Next() {
		t, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// ListStuck returns non-terminal transactions whose payment window lapsed
// before the cutoff. SKIP LOCKED keeps concurrent reconciler instances from
// polling the same rows.
func (r *TransactionRepository) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Transaction, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE status IN ('pending', 'processing')
		   AND expires_at IS NOT NULL AND expires_at < $1
		 ORDER BY expires_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stuck transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*payment.Transaction
	for rows.Next() {
		t, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// scanTransaction scans a transaction from any source implementing scanner.
func (r *TransactionRepository) scanTransaction(s scanner) (*payment.Transaction, error) {
	t := &payment.Transaction{}
	var (
		status      string
		paymentData []byte
	)
	err := s.Scan(
		&t.ID, &t.OrderID, &t.UserID, &t.MethodID, &t.Amount.Value, &t.Amount.Currency, &status,
		&t.Provider, &t.ProviderTransactionID, &t.ProviderOrderID, &t.PaymentURL, &t.QRCodeURL,
		&paymentData, &t.CreatedAt, &t.UpdatedAt, &t.PaidAt, &t.ExpiresAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainErrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	t.Status = payment.TransactionStatus(status)
	if len(paymentData) > 0 {
		t.PaymentData = make(map[string]any)
		if err := json.Unmarshal(paymentData, &t.PaymentData); err != nil {
			return nil, fmt.Errorf("unmarshal payment data: %w", err)
		}
	}
	return t, nil
}
