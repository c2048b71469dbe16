package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/oakmart/payments/internal/domain/order"
	"github.com/oakmart/payments/internal/domain/outbox"
	"github.com/oakmart/payments/internal/domain/payment"
	"github.com/oakmart/payments/internal/infrastructure/observability"
	"github.com/oakmart/payments/internal/providers"
)

// LedgerConfig holds the settings the ledger needs beyond its collaborators.
type LedgerConfig struct {
	SupportedCurrencies []string
	PublicBaseURL       string // base for provider webhook callbacks
	ReturnURL           string
	CancelURL           string
	ProviderTimeout     time.Duration
}

// LedgerService owns the transaction ledger. Every status mutation after
// creation goes through ApplyEvent, so webhook deliveries, refund results
// and reconciliation polls all converge on one code path.
type LedgerService struct {
	txRepo     payment.TransactionRepository
	refundRepo payment.RefundRepository
	methodRepo payment.MethodRepository
	outboxRepo outbox.Repository
	orders     order.Service
	txManager  TransactionManager
	registry   *providers.Registry
	cfg        LedgerConfig
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewLedgerService creates a new LedgerService. metrics may be nil.
func NewLedgerService(
	txRepo payment.TransactionRepository,
	refundRepo payment.RefundRepository,
	methodRepo payment.MethodRepository,
	outboxRepo outbox.Repository,
	orders order.Service,
	txManager TransactionManager,
	registry *providers.Registry,
	cfg LedgerConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *LedgerService {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	return &LedgerService{
		txRepo:     txRepo,
		refundRepo: refundRepo,
		methodRepo: methodRepo,
		outboxRepo: outboxRepo,
		orders:     orders,
		txManager:  txManager,
		registry:   registry,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.With().Str("component", "ledger").Logger(),
	}
}

// CreatePaymentRequest holds the input for initiating a payment. ReturnURL
// and CancelURL override the configured defaults when the storefront wants
// the shopper back on a specific page.
type CreatePaymentRequest struct {
	OrderID    string
	MethodCode string
	UserID     *uuid.UUID
	Amount     int64 // minor units
	Currency   string
	ReturnURL  string
	CancelURL  string
}

// CreatePayment validates the order, calls the provider, and only then
// records the transaction. A provider failure leaves no ledger row behind.
func (s *LedgerService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*payment.Transaction, error) {
	method, err := s.methodRepo.GetByCode(ctx, req.MethodCode)
	if err != nil {
		return nil, err
	}
	if !method.Active {
		return nil, domainErrors.ErrMethodInactive
	}

	ord, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if ord.PaymentStatus != order.PaymentStatusUnpaid {
		return nil, domainErrors.NewDomainError("order_already_paid",
			fmt.Sprintf("order %s is %s", ord.ID, ord.PaymentStatus), nil)
	}

	currency := req.Currency
	if currency == "" {
		currency = ord.Currency
	}
	if !s.currencySupported(currency) {
		return nil, domainErrors.ErrUnsupportedCurrency
	}
	if currency != ord.Currency {
		return nil, domainErrors.NewValidationError("currency", "does not match order currency")
	}
	// Exact integer comparison in minor units.
	if req.Amount != ord.TotalAmount {
		return nil, domainErrors.NewValidationError("amount", "does not match order total")
	}

	t, err := payment.NewTransaction(ord.ID, req.UserID, method.ID, method.Provider,
		payment.Amount{Value: req.Amount, Currency: currency})
	if err != nil {
		return nil, err
	}

	adapter, breaker, err := s.registry.Get(method.Provider)
	if err != nil {
		return nil, err
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = s.cfg.ReturnURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = s.cfg.CancelURL
	}

	start := time.Now()
	res, err := breaker.Execute(func() (any, error) {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()
		return adapter.CreatePayment(cctx, providers.CreateRequest{
			TransactionID: t.ID.String(),
			OrderID:       ord.ID,
			Amount:        req.Amount,
			Currency:      currency,
			Description:   fmt.Sprintf("order %s", ord.ID),
			ReturnURL:     returnURL,
			CancelURL:     cancelURL,
			NotifyURL:     fmt.Sprintf("%s/payment/webhook/%s", s.cfg.PublicBaseURL, method.Provider),
		})
	})
	s.observeDuration(method.Provider, "create", start)
	if err != nil {
		s.observePayment(method.Provider, "error")
		s.logger.Warn().Err(err).Str("provider", method.Provider).
			Str("order_id", ord.ID).Msg("provider create failed")
		return nil, s.classifyBreakerErr(err)
	}
	result := res.(*providers.CreateResult)

	if result.ProviderTransactionID != "" {
		t.SetProviderTransactionID(result.ProviderTransactionID)
	}
	if result.PaymentURL != "" {
		t.PaymentURL = &result.PaymentURL
	}
	if result.QRCodeURL != "" {
		t.QRCodeURL = &result.QRCodeURL
	}
	if len(result.PaymentData) > 0 {
		t.PaymentData = result.PaymentData
	}
	t.ExpiresAt = result.ExpiresAt

	if err := s.txRepo.Create(ctx, t); err != nil {
		return nil, err
	}

	s.observePayment(method.Provider, "created")
	s.logger.Info().Str("transaction_id", t.ID.String()).Str("order_id", ord.ID).
		Str("provider", method.Provider).Int64("amount", req.Amount).
		Msg("payment initiated")
	return t, nil
}

// GetPayment returns a transaction and its refunds.
func (s *LedgerService) GetPayment(ctx context.Context, id uuid.UUID) (*payment.Transaction, []*payment.Refund, error) {
	t, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	refunds, err := s.refundRepo.ListByTransaction(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return t, refunds, nil
}

// ListPayments lists transactions with optional filters.
func (s *LedgerService) ListPayments(ctx context.Context, f payment.ListFilter) ([]*payment.Transaction, error) {
	return s.txRepo.List(ctx, f)
}

// ListMethods returns the active payment methods in display order.
func (s *LedgerService) ListMethods(ctx context.Context) ([]*payment.Method, error) {
	return s.methodRepo.ListActive(ctx)
}

// ApplyEvent is the sole mutator of transaction and refund status after
// creation. It runs inside a database transaction with a row lock on the
// affected transaction; concurrent deliveries for the same payment
// serialize here. An event whose transition is not legal from the current
// state is a no-op, not an error, which is what makes redelivery and
// out-of-order delivery safe.
func (s *LedgerService) ApplyEvent(ctx context.Context, provider string, ev *providers.Event) error {
	if s.metrics != nil {
		s.metrics.PaymentEvents.WithLabelValues(provider, string(ev.Kind)).Inc()
	}
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		switch ev.Kind {
		case providers.EventPaymentCompleted, providers.EventPaymentFailed, providers.EventPaymentCancelled:
			return s.applyPaymentEvent(txCtx, provider, ev)
		case providers.EventRefundCompleted, providers.EventRefundFailed:
			return s.applyRefundEvent(txCtx, provider, ev)
		default:
			return fmt.Errorf("%w: unknown event kind %q", domainErrors.ErrMalformedPayload, ev.Kind)
		}
	})
}

func (s *LedgerService) applyPaymentEvent(ctx context.Context, provider string, ev *providers.Event) error {
	t, err := s.lockByEvent(ctx, provider, ev)
	if err != nil {
		return err
	}

	target := paymentTarget(ev.Kind)
	if !t.CanTransitionTo(target) {
		// Duplicate or stale delivery. The first delivery won; drop this one.
		s.logger.Info().Str("transaction_id", t.ID.String()).
			Str("status", string(t.Status)).Str("event", string(ev.Kind)).
			Msg("event ignored, transition not legal from current state")
		return nil
	}

	if ev.Kind == providers.EventPaymentCompleted && ev.Amount > 0 && ev.Amount != t.Amount.Value {
		return domainErrors.NewDomainError("amount_mismatch",
			fmt.Sprintf("provider reported %d, ledger has %d", ev.Amount, t.Amount.Value),
			domainErrors.ErrValidationFailed)
	}

	switch ev.Kind {
	case providers.EventPaymentCompleted:
		var ptxID *string
		if ev.ProviderTransactionID != "" {
			ptxID = &ev.ProviderTransactionID
		}
		if err := t.MarkCompleted(ptxID); err != nil {
			return err
		}
	case providers.EventPaymentFailed:
		if err := t.MarkFailed(); err != nil {
			return err
		}
	case providers.EventPaymentCancelled:
		if err := t.MarkCancelled(); err != nil {
			return err
		}
	}
	if err := s.txRepo.Update(ctx, t); err != nil {
		return err
	}

	if t.Status == payment.StatusCompleted {
		if err := s.orders.SetPaymentStatus(ctx, t.OrderID, order.PaymentStatusPaid); err != nil {
			return fmt.Errorf("order sync: %w", err)
		}
	}

	if err := s.outboxRepo.Insert(ctx, outbox.NewEntry("transaction", t.ID,
		"payment."+string(t.Status), map[string]any{
			"transaction_id": t.ID.String(),
			"order_id":       t.OrderID,
			"status":         string(t.Status),
			"amount":         t.Amount.Value,
			"currency":       t.Amount.Currency,
			"provider":       t.Provider,
		})); err != nil {
		return err
	}

	s.logger.Info().Str("transaction_id", t.ID.String()).Str("order_id", t.OrderID).
		Str("status", string(t.Status)).Str("event", string(ev.Kind)).
		Msg("transaction updated")
	return nil
}

func (s *LedgerService) applyRefundEvent(ctx context.Context, provider string, ev *providers.Event) error {
	r, err := s.findRefund(ctx, provider, ev)
	if err != nil {
		return err
	}

	// Lock the parent transaction, then re-read the refund under that lock.
	t, err := s.txRepo.Lock(ctx, r.TransactionID)
	if err != nil {
		return err
	}
	r, err = s.refundRepo.GetByID(ctx, r.ID)
	if err != nil {
		return err
	}

	target := payment.RefundFailed
	if ev.Kind == providers.EventRefundCompleted {
		target = payment.RefundCompleted
	}
	if !r.CanTransitionTo(target) {
		s.logger.Info().Str("refund_id", r.ID.String()).
			Str("status", string(r.Status)).Str("event", string(ev.Kind)).
			Msg("refund event ignored, transition not legal from current state")
		return nil
	}

	if ev.ProviderRefundID != "" {
		r.SetProviderRefundID(ev.ProviderRefundID)
	}
	if target == payment.RefundCompleted {
		if err := r.MarkCompleted(); err != nil {
			return err
		}
	} else {
		if err := r.MarkFailed(); err != nil {
			return err
		}
	}
	if err := s.refundRepo.Update(ctx, r); err != nil {
		return err
	}

	if target == payment.RefundCompleted {
		if err := s.settleRefundedTransaction(ctx, t); err != nil {
			return err
		}
	}

	if err := s.outboxRepo.Insert(ctx, refundOutboxEntry(r, t)); err != nil {
		return err
	}

	s.logger.Info().Str("refund_id", r.ID.String()).
		Str("transaction_id", t.ID.String()).Str("status", string(r.Status)).
		Msg("refund updated")
	return nil
}

// settleRefundedTransaction moves a completed transaction to refunded once
// completed refunds cover its full amount, and syncs the order.
func (s *LedgerService) settleRefundedTransaction(ctx context.Context, t *payment.Transaction) error {
	total, err := s.refundRepo.SumCompleted(ctx, t.ID)
	if err != nil {
		return err
	}
	if total < t.Amount.Value || !t.CanTransitionTo(payment.StatusRefunded) {
		return nil
	}
	if err := t.MarkRefunded(); err != nil {
		return err
	}
	if err := s.txRepo.Update(ctx, t); err != nil {
		return err
	}
	if err := s.orders.SetPaymentStatus(ctx, t.OrderID, order.PaymentStatusRefunded); err != nil {
		return fmt.Errorf("order sync: %w", err)
	}
	return s.outboxRepo.Insert(ctx, outbox.NewEntry("transaction", t.ID,
		"payment.refunded", map[string]any{
			"transaction_id": t.ID.String(),
			"order_id":       t.OrderID,
			"amount":         t.Amount.Value,
			"currency":       t.Amount.Currency,
		}))
}

// lockByEvent resolves the transaction an event refers to and takes the row
// lock. Providers echo our reference when they have it; otherwise we fall
// back to their reference.
func (s *LedgerService) lockByEvent(ctx context.Context, provider string, ev *providers.Event) (*payment.Transaction, error) {
	if ev.TransactionID != "" {
		if id, err := uuid.Parse(ev.TransactionID); err == nil {
			t, err := s.txRepo.Lock(ctx, id)
			if err == nil {
				return t, nil
			}
			if !errors.Is(err, domainErrors.ErrTransactionNotFound) {
				return nil, err
			}
		}
	}
	if ev.ProviderTransactionID != "" {
		t, err := s.txRepo.GetByProviderTransactionID(ctx, provider, ev.ProviderTransactionID)
		if err != nil {
			return nil, err
		}
		return s.txRepo.Lock(ctx, t.ID)
	}
	return nil, domainErrors.ErrTransactionNotFound
}

func (s *LedgerService) findRefund(ctx context.Context, provider string, ev *providers.Event) (*payment.Refund, error) {
	if ev.RefundID != "" {
		if id, err := uuid.Parse(ev.RefundID); err == nil {
			r, err := s.refundRepo.GetByID(ctx, id)
			if err == nil {
				return r, nil
			}
			if !errors.Is(err, domainErrors.ErrRefundNotFound) {
				return nil, err
			}
		}
	}
	if ev.ProviderRefundID != "" {
		return s.refundRepo.GetByProviderRefundID(ctx, provider, ev.ProviderRefundID)
	}
	return nil, domainErrors.ErrRefundNotFound
}

func refundOutboxEntry(r *payment.Refund, t *payment.Transaction) *outbox.Entry {
	return outbox.NewEntry("refund", r.ID, "refund."+string(r.Status), map[string]any{
		"refund_id":      r.ID.String(),
		"transaction_id": t.ID.String(),
		"order_id":       t.OrderID,
		"status":         string(r.Status),
		"amount":         r.Amount.Value,
		"currency":       r.Amount.Currency,
	})
}

func paymentTarget(kind providers.EventKind) payment.TransactionStatus {
	switch kind {
	case providers.EventPaymentCompleted:
		return payment.StatusCompleted
	case providers.EventPaymentCancelled:
		return payment.StatusCancelled
	default:
		return payment.StatusFailed
	}
}

func (s *LedgerService) currencySupported(currency string) bool {
	for _, c := range s.cfg.SupportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

func (s *LedgerService) observePayment(provider, result string) {
	if s.metrics != nil {
		s.metrics.PaymentsCreated.WithLabelValues(provider, result).Inc()
	}
}

func (s *LedgerService) observeRefund(provider, result string) {
	if s.metrics != nil {
		s.metrics.RefundsTotal.WithLabelValues(provider, result).Inc()
	}
}

func (s *LedgerService) observeDuration(provider, operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.PaymentDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
	}
}

// classifyBreakerErr maps circuit breaker states onto the provider error
// taxonomy so callers see one vocabulary.
func (s *LedgerService) classifyBreakerErr(err error) error {
	if errors.Is(err, domainErrors.ErrProviderRejected) ||
		errors.Is(err, domainErrors.ErrProviderUnavailable) ||
		errors.Is(err, domainErrors.ErrProviderConfig) {
		return err
	}
	return fmt.Errorf("%w: %v", domainErrors.ErrProviderUnavailable, err)
}
