package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/oakmart/payments/internal/domain/webhook"
	"github.com/oakmart/payments/internal/providers"
)

// WebhookService runs the ingestion pipeline: record, verify, parse, apply.
// Providers retry deliveries that are not acknowledged, so every outcome
// after the event row is written must still hand back the provider's ack.
// The dedup key on the raw payload rejects redeliveries before any parsing
// happens; the state machine no-ops catch the semantic duplicates that
// arrive with different bytes.
type WebhookService struct {
	registry    *providers.Registry
	webhookRepo webhook.Repository
	ledger      *LedgerService
	txManager   TransactionManager
	logger      zerolog.Logger
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(
	registry *providers.Registry,
	webhookRepo webhook.Repository,
	ledger *LedgerService,
	txManager TransactionManager,
	logger zerolog.Logger,
) *WebhookService {
	return &WebhookService{
		registry:    registry,
		webhookRepo: webhookRepo,
		ledger:      ledger,
		txManager:   txManager,
		logger:      logger.With().Str("component", "webhook").Logger(),
	}
}

// Outcome says what happened to a delivery. The HTTP response is the same
// ack either way; the outcome feeds logs and metrics.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected" // recorded but not applied
)

// Process handles one webhook delivery. It returns the provider-specific
// ack to write back. Only two errors escape: an unknown provider (the
// caller responds 404) and a storage failure before the event row exists
// (the caller responds 500 so the provider redelivers).
func (s *WebhookService) Process(ctx context.Context, provider string, body []byte, header http.Header) (providers.Ack, Outcome, error) {
	adapter, _, err := s.registry.Get(provider)
	if err != nil {
		return providers.Ack{}, "", err
	}

	ev := webhook.NewEvent(provider, body)
	if err := s.webhookRepo.Insert(ctx, ev); err != nil {
		if errors.Is(err, domainErrors.ErrDuplicateWebhook) {
			s.logger.Info().Str("provider", provider).Str("dedup_key", ev.DedupKey).
				Msg("duplicate delivery dropped")
			return adapter.WebhookAck(""), OutcomeDuplicate, nil
		}
		return providers.Ack{}, "", err
	}

	if err := adapter.Verify(body, header); err != nil {
		s.logger.Warn().Err(err).Str("provider", provider).
			Str("webhook_id", ev.ID.String()).Msg("signature verification failed")
		s.recordError(ctx, ev, err)
		return adapter.WebhookAck(""), OutcomeRejected, nil
	}

	parsed, err := adapter.ParseWebhook(body, header)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", provider).
			Str("webhook_id", ev.ID.String()).Msg("webhook parse failed")
		s.recordError(ctx, ev, err)
		return adapter.WebhookAck(""), OutcomeRejected, nil
	}

	// The ledger mutation and the processed flag commit together.
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.ledger.ApplyEvent(txCtx, provider, parsed); err != nil {
			return err
		}
		ev.MarkProcessed(string(parsed.Kind))
		return s.webhookRepo.Update(txCtx, ev)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("provider", provider).
			Str("webhook_id", ev.ID.String()).Str("event", string(parsed.Kind)).
			Msg("event application failed")
		s.recordError(ctx, ev, err)
		return adapter.WebhookAck(parsed.Kind), OutcomeRejected, nil
	}

	return adapter.WebhookAck(parsed.Kind), OutcomeProcessed, nil
}

func (s *WebhookService) recordError(ctx context.Context, ev *webhook.Event, cause error) {
	ev.MarkError(cause.Error())
	if err := s.webhookRepo.Update(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("webhook_id", ev.ID.String()).
			Msg("failed to record webhook error")
	}
}

// ListFailed returns unprocessed events for operator review.
func (s *WebhookService) ListFailed(ctx context.Context, limit int) ([]*webhook.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.webhookRepo.ListUnprocessed(ctx, limit)
}
