package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/oakmart/payments/internal/domain/payment"
	"github.com/oakmart/payments/internal/providers"
)

// RefundRequest holds the input for initiating a refund. A nil Amount
// refunds whatever is still refundable.
type RefundRequest struct {
	TransactionID uuid.UUID
	Amount        *int64
	Reason        string
}

// Refund reserves a refund against the transaction under a row lock, then
// calls the provider, then settles the result. The reservation counts
// pending and processing refunds, so two concurrent requests can never
// refund more than was paid between them.
func (s *LedgerService) Refund(ctx context.Context, req RefundRequest) (*payment.Refund, error) {
	var (
		t *payment.Transaction
		r *payment.Refund
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		t, err = s.txRepo.Lock(txCtx, req.TransactionID)
		if err != nil {
			return err
		}
		if t.ProviderTransactionID == nil {
			return fmt.Errorf("%w: no provider reference", domainErrors.ErrNotRefundable)
		}

		reserved, err := s.refundRepo.SumReserved(txCtx, t.ID)
		if err != nil {
			return err
		}
		remaining := t.Amount.Value - reserved
		amount := remaining
		if req.Amount != nil {
			amount = *req.Amount
		}
		if amount <= 0 || amount > remaining {
			return domainErrors.ErrRefundExceedsAmount
		}

		r, err = payment.NewRefund(t, amount, req.Reason)
		if err != nil {
			return err
		}
		return s.refundRepo.Create(txCtx, r)
	})
	if err != nil {
		return nil, err
	}

	adapter, breaker, err := s.registry.Get(t.Provider)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := breaker.Execute(func() (any, error) {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()
		return adapter.ProcessRefund(cctx, providers.RefundRequest{
			ProviderTransactionID: *t.ProviderTransactionID,
			RefundID:              r.ID.String(),
			Amount:                r.Amount.Value,
			Currency:              r.Amount.Currency,
			Reason:                req.Reason,
		})
	})
	s.observeDuration(t.Provider, "refund", start)
	if err != nil {
		err = s.classifyBreakerErr(err)
		s.observeRefund(t.Provider, "error")
		// A definitive rejection frees the reservation. Anything else may
		// still have gone through on the provider side; the refund stays
		// pending until a webhook or the reconciler's refund sweep resolves it.
		if errors.Is(err, domainErrors.ErrProviderRejected) {
			if failErr := s.failRefund(ctx, r); failErr != nil {
				return nil, failErr
			}
		}
		return nil, err
	}
	result := res.(*providers.RefundResult)

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		t, err = s.txRepo.Lock(txCtx, req.TransactionID)
		if err != nil {
			return err
		}
		r, err = s.refundRepo.GetByID(txCtx, r.ID)
		if err != nil {
			return err
		}
		if result.ProviderRefundID != "" {
			r.SetProviderRefundID(result.ProviderRefundID)
		}
		if result.Completed {
			if err := r.MarkCompleted(); err != nil {
				return err
			}
		} else {
			if err := r.MarkProcessing(); err != nil {
				return err
			}
		}
		if err := s.refundRepo.Update(txCtx, r); err != nil {
			return err
		}
		if r.Status == payment.RefundCompleted {
			if err := s.settleRefundedTransaction(txCtx, t); err != nil {
				return err
			}
			return s.outboxRepo.Insert(txCtx, refundOutboxEntry(r, t))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.observeRefund(t.Provider, "accepted")
	s.logger.Info().Str("refund_id", r.ID.String()).
		Str("transaction_id", t.ID.String()).Int64("amount", r.Amount.Value).
		Str("status", string(r.Status)).Msg("refund initiated")
	return r, nil
}

// GetRefund returns a single refund.
func (s *LedgerService) GetRefund(ctx context.Context, id uuid.UUID) (*payment.Refund, error) {
	return s.refundRepo.GetByID(ctx, id)
}

func (s *LedgerService) failRefund(ctx context.Context, r *payment.Refund) error {
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.txRepo.Lock(txCtx, r.TransactionID); err != nil {
			return err
		}
		fresh, err := s.refundRepo.GetByID(txCtx, r.ID)
		if err != nil {
			return err
		}
		if !fresh.CanTransitionTo(payment.RefundFailed) {
			return nil
		}
		if err := fresh.MarkFailed(); err != nil {
			return err
		}
		return s.refundRepo.Update(txCtx, fresh)
	})
}
