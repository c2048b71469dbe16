package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/oakmart/payments/internal/domain/webhook"
)

const webhookColumns = `id, provider, event_type, raw_payload, dedup_key, processed, error_message, created_at`

// WebhookRepository implements webhook.Repository using PostgreSQL. The
// unique index on dedup_key is the idempotency gate for the whole ingestion
// pipeline.
type WebhookRepository struct {
	pool *pgxpool.Pool
}

// NewWebhookRepository creates a new WebhookRepository.
func NewWebhookRepository(pool *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

func (r *WebhookRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Insert stores a delivery. A dedup key collision surfaces as
// ErrDuplicateWebhook.
func (r *WebhookRepository) Insert(ctx context.Context, e *webhook.Event) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO webhook_events
		 (id, provider, event_type, raw_payload, dedup_key, processed, error_message, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.Provider, e.EventType, e.RawPayload, e.DedupKey, e.Processed, e.ErrorMessage, e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrDuplicateWebhook
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// GetByDedupKey retrieves an event by its dedup key.
func (r *WebhookRepository) GetByDedupKey(ctx context.Context, key string) (*webhook.Event, error) {
	return r.scanEvent(r.db(ctx).QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhook_events WHERE dedup_key = $1`, key))
}

// Update persists the processed flag, event type, and error message.
func (r *WebhookRepository) Update(ctx context.Context, e *webhook.Event) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE webhook_events SET event_type=$1, processed=$2, error_message=$3 WHERE id=$4`,
		e.EventType, e.Processed, e.ErrorMessage, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrWebhookNotFound
	}
	return nil
}

// ListUnprocessed returns failed events for operator review.
func (r *WebhookRepository) ListUnprocessed(ctx context.Context, limit int) ([]*webhook.Event, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+webhookColumns+` FROM webhook_events
		 WHERE NOT processed ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed webhook events: %w", err)
	}
	defer rows.Close()

	var events []*webhook.Event
	for rows.Next() {
		e, err := r.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetByID retrieves an event by ID.
func (r *WebhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*webhook.Event, error) {
	return r.scanEvent(r.db(ctx).QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhook_events WHERE id = $1`, id))
}

func (r *WebhookRepository) scanEvent(s scanner) (*webhook.Event, error) {
	e := &webhook.Event{}
	err := s.Scan(&e.ID, &e.Provider, &e.EventType, &e.RawPayload, &e.DedupKey,
		&e.Processed, &e.ErrorMessage, &e.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainErrors.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("scan webhook event: %w", err)
	}
	return e, nil
}
