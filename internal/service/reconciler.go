package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/oakmart/payments/internal/domain/payment"
	"github.com/oakmart/payments/internal/infrastructure/observability"
	"github.com/oakmart/payments/internal/providers"
	"github.com/oakmart/payments/pkg/retry"
)

// ReconcilerConfig holds the polling settings.
type ReconcilerConfig struct {
	Interval time.Duration
	// RefundStuckAfter is how long a refund may sit in pending or processing
	// before the reconciler intervenes.
	RefundStuckAfter time.Duration
	BatchSize        int
	Retry            retry.Config
}

// Reconciler is the safety net for lost webhooks and lost provider calls. It
// polls transactions whose payment window lapsed without a terminal status,
// and refunds that have sat in flight too long, and asks the provider what
// actually happened. Results flow through the same ApplyEvent path as
// webhooks, so the row lock and no-op rules hold even when a late webhook
// races a poll.
type Reconciler struct {
	txRepo     payment.TransactionRepository
	refundRepo payment.RefundRepository
	registry   *providers.Registry
	ledger     *LedgerService
	cfg        ReconcilerConfig
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewReconciler creates a new Reconciler. metrics may be nil.
func NewReconciler(
	txRepo payment.TransactionRepository,
	refundRepo payment.RefundRepository,
	registry *providers.Registry,
	ledger *LedgerService,
	cfg ReconcilerConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RefundStuckAfter <= 0 {
		cfg.RefundStuckAfter = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return &Reconciler{
		txRepo:     txRepo,
		refundRepo: refundRepo,
		registry:   registry,
		ledger:     ledger,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.With().Str("component", "reconciler").Logger(),
	}
}

// Run polls until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.cfg.Interval).Msg("reconciler started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			if n, err := r.RunOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation pass failed")
			} else if n > 0 {
				r.logger.Info().Int("reconciled", n).Msg("reconciliation pass done")
			}
		}
	}
}

// RunOnce reconciles one batch of stuck transactions and one batch of stuck
// refunds, and returns how many were moved to a terminal state.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	stuck, err := r.txRepo.ListStuck(ctx, time.Now(), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, t := range stuck {
		if err := r.reconcile(ctx, t); err != nil {
			r.logger.Warn().Err(err).Str("transaction_id", t.ID.String()).
				Str("provider", t.Provider).Msg("reconcile failed")
			r.observe("error")
			continue
		}
		r.observe("resolved")
		reconciled++
	}

	refundCutoff := time.Now().Add(-r.cfg.RefundStuckAfter)
	stuckRefunds, err := r.refundRepo.ListStuck(ctx, refundCutoff, r.cfg.BatchSize)
	if err != nil {
		return reconciled, err
	}
	for _, rf := range stuckRefunds {
		settled, err := r.reconcileRefund(ctx, rf)
		if err != nil {
			r.logger.Warn().Err(err).Str("refund_id", rf.ID.String()).
				Msg("refund reconcile failed")
			r.observe("error")
			continue
		}
		if settled {
			r.observe("resolved")
			reconciled++
		}
	}
	return reconciled, nil
}

func (r *Reconciler) reconcile(ctx context.Context, t *payment.Transaction) error {
	// Never created on the provider side; the window lapsed, close it out.
	if t.ProviderTransactionID == nil {
		return r.apply(ctx, t, providers.EventPaymentCancelled, "")
	}

	adapter, breaker, err := r.registry.Get(t.Provider)
	if err != nil {
		return err
	}

	status, err := retry.DoWithResult(ctx, r.cfg.Retry, func() (providers.Status, error) {
		res, err := breaker.Execute(func() (any, error) {
			return adapter.VerifyPayment(ctx, *t.ProviderTransactionID)
		})
		if err != nil {
			return "", err
		}
		return res.(providers.Status), nil
	})
	if err != nil {
		return err
	}

	switch status {
	case providers.StatusCompleted:
		return r.apply(ctx, t, providers.EventPaymentCompleted, *t.ProviderTransactionID)
	case providers.StatusFailed:
		return r.apply(ctx, t, providers.EventPaymentFailed, *t.ProviderTransactionID)
	case providers.StatusCancelled:
		return r.apply(ctx, t, providers.EventPaymentCancelled, *t.ProviderTransactionID)
	case providers.StatusPending:
		// Still pending on the provider side past the window: the customer
		// will not complete it anymore, close it out.
		if t.IsExpired(time.Now()) {
			return r.apply(ctx, t, providers.EventPaymentCancelled, *t.ProviderTransactionID)
		}
		return nil
	default:
		return nil
	}
}

// reconcileRefund settles a refund stuck in pending or processing. Without a
// provider reference the request never yielded one, so there is nothing to
// query; the refund is failed and its reservation released. With a reference
// the provider's answer is authoritative.
func (r *Reconciler) reconcileRefund(ctx context.Context, rf *payment.Refund) (bool, error) {
	t, err := r.txRepo.GetByID(ctx, rf.TransactionID)
	if err != nil {
		return false, err
	}

	if rf.ProviderRefundID == nil {
		return true, r.applyRefund(ctx, t, rf, providers.EventRefundFailed)
	}

	adapter, breaker, err := r.registry.Get(t.Provider)
	if err != nil {
		return false, err
	}

	status, err := retry.DoWithResult(ctx, r.cfg.Retry, func() (providers.Status, error) {
		res, err := breaker.Execute(func() (any, error) {
			return adapter.VerifyRefund(ctx, *rf.ProviderRefundID)
		})
		if err != nil {
			return "", err
		}
		return res.(providers.Status), nil
	})
	if err != nil {
		return false, err
	}

	switch status {
	case providers.StatusCompleted:
		return true, r.applyRefund(ctx, t, rf, providers.EventRefundCompleted)
	case providers.StatusFailed, providers.StatusCancelled:
		return true, r.applyRefund(ctx, t, rf, providers.EventRefundFailed)
	default:
		// Still processing on the provider side; check again next pass.
		return false, nil
	}
}

func (r *Reconciler) apply(ctx context.Context, t *payment.Transaction, kind providers.EventKind, providerTxID string) error {
	r.logger.Info().Str("transaction_id", t.ID.String()).Str("provider", t.Provider).
		Str("event", string(kind)).Msg("reconciling stuck transaction")
	return r.ledger.ApplyEvent(ctx, t.Provider, &providers.Event{
		Kind:                  kind,
		TransactionID:         t.ID.String(),
		ProviderTransactionID: providerTxID,
	})
}

func (r *Reconciler) applyRefund(ctx context.Context, t *payment.Transaction, rf *payment.Refund, kind providers.EventKind) error {
	r.logger.Info().Str("refund_id", rf.ID.String()).Str("provider", t.Provider).
		Str("event", string(kind)).Msg("reconciling stuck refund")
	ev := &providers.Event{
		Kind:          kind,
		TransactionID: t.ID.String(),
		RefundID:      rf.ID.String(),
	}
	if rf.ProviderRefundID != nil {
		ev.ProviderRefundID = *rf.ProviderRefundID
	}
	return r.ledger.ApplyEvent(ctx, t.Provider, ev)
}

func (r *Reconciler) observe(outcome string) {
	if r.metrics != nil {
		r.metrics.ReconcileTransactions.WithLabelValues(outcome).Inc()
	}
}
