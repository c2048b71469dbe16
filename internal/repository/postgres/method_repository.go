package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/oakmart/payments/internal/domain/payment"
)

const methodColumns = `id, code, provider, display_name, active, sort_order, config, created_at, updated_at`

// MethodRepository implements payment.MethodRepository using PostgreSQL.
type MethodRepository struct {
	pool *pgxpool.Pool
}

// NewMethodRepository creates a new MethodRepository.
func NewMethodRepository(pool *pgxpool.Pool) *MethodRepository {
	return &MethodRepository{pool: pool}
}

func (r *MethodRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// GetByCode retrieves a method by its checkout code.
func (r *MethodRepository) GetByCode(ctx context.Context, code string) (*payment.Method, error) {
	return r.scanMethod(r.db(ctx).QueryRow(ctx,
		`SELECT `+methodColumns+` FROM payment_methods WHERE code = $1`, code))
}

// GetByID retrieves a method by its ID.
func (r *MethodRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Method, error) {
	return r.scanMethod(r.db(ctx).QueryRow(ctx,
		`SELECT `+methodColumns+` FROM payment_methods WHERE id = $1`, id))
}

// ListActive lists active methods ordered by sort order.
func (r *MethodRepository) ListActive(ctx context.Context) ([]*payment.Method, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+methodColumns+` FROM payment_methods
		 WHERE active ORDER BY sort_order ASC, code ASC`)
	if err != nil {
		return nil, fmt.Errorf("list methods: %w", err)
	}
	defer rows.Close()

	var methods []*payment.Method
	for rows.Next() {
		m, err := r.scanMethod(rows)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

func (r *MethodRepository) scanMethod(s scanner) (*payment.Method, error) {
	m := &payment.Method{}
	var config []byte
	err := s.Scan(&m.ID, &m.Code, &m.Provider, &m.DisplayName, &m.Active, &m.SortOrder,
		&config, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainErrors.ErrMethodNotFound
		}
		return nil, fmt.Errorf("scan method: %w", err)
	}
	if len(config) > 0 {
		m.Config = make(map[string]string)
		if err := json.Unmarshal(config, &m.Config); err != nil {
			return nil, fmt.Errorf("unmarshal method config: %w", err)
		}
	}
	return m, nil
}
