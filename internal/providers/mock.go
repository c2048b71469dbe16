package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/google/uuid"
)

// MockProvider is an in-memory adapter for tests and local development. Its
// webhook protocol is plain JSON with no signature unless a secret is set.
type MockProvider struct {
	name          string
	latency       time.Duration
	createErr     error
	refundErr     error
	verifyStatus  Status
	refundStatus  Status
	verifyErr     error
	asyncRefund   bool
	requireHeader string // when set, Verify demands this header value equals "valid"
}

type MockProviderOption func(*MockProvider)

func WithLatency(d time.Duration) MockProviderOption {
	return func(p *MockProvider) { p.latency = d }
}

func WithCreateError(err error) MockProviderOption {
	return func(p *MockProvider) { p.createErr = err }
}

func WithRefundError(err error) MockProviderOption {
	return func(p *MockProvider) { p.refundErr = err }
}

func WithVerifyStatus(s Status) MockProviderOption {
	return func(p *MockProvider) { p.verifyStatus = s }
}

func WithRefundStatus(s Status) MockProviderOption {
	return func(p *MockProvider) { p.refundStatus = s }
}

func WithVerifyError(err error) MockProviderOption {
	return func(p *MockProvider) { p.verifyErr = err }
}

// WithAsyncRefund makes refunds settle later, the way wallet rails do.
func WithAsyncRefund() MockProviderOption {
	return func(p *MockProvider) { p.asyncRefund = true }
}

func WithSignatureHeader(header string) MockProviderOption {
	return func(p *MockProvider) { p.requireHeader = header }
}

func NewMockProvider(name string, opts ...MockProviderOption) *MockProvider {
	p := &MockProvider{
		name:         name,
		verifyStatus: StatusPending,
		refundStatus: StatusPending,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}
	if p.createErr != nil {
		return nil, p.createErr
	}

	expires := time.Now().Add(30 * time.Minute)
	return &CreateResult{
		ProviderTransactionID: fmt.Sprintf("%s_txn_%s", p.name, uuid.New().String()[:8]),
		PaymentURL:            fmt.Sprintf("https://pay.%s.test/checkout/%s", p.name, req.TransactionID),
		PaymentData:           map[string]any{"mock": true},
		ExpiresAt:             &expires,
	}, nil
}

func (p *MockProvider) VerifyPayment(ctx context.Context, providerTxID string) (Status, error) {
	if err := p.sleep(ctx); err != nil {
		return "", err
	}
	if p.verifyErr != nil {
		return "", p.verifyErr
	}
	return p.verifyStatus, nil
}

func (p *MockProvider) ProcessRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}
	if p.refundErr != nil {
		return nil, p.refundErr
	}
	return &RefundResult{
		ProviderRefundID: fmt.Sprintf("%s_refund_%s", p.name, uuid.New().String()[:8]),
		Completed:        !p.asyncRefund,
	}, nil
}

func (p *MockProvider) VerifyRefund(ctx context.Context, providerRefundID string) (Status, error) {
	if err := p.sleep(ctx); err != nil {
		return "", err
	}
	if p.verifyErr != nil {
		return "", p.verifyErr
	}
	return p.refundStatus, nil
}

type mockWebhook struct {
	EventID               string `json:"event_id"`
	Kind                  string `json:"kind"`
	TransactionID         string `json:"transaction_id,omitempty"`
	ProviderTransactionID string `json:"provider_transaction_id"`
	ProviderRefundID      string `json:"provider_refund_id,omitempty"`
	RefundID              string `json:"refund_id,omitempty"`
	Amount                int64  `json:"amount"`
	Currency              string `json:"currency"`
}

func (p *MockProvider) ParseWebhook(body []byte, _ http.Header) (*Event, error) {
	var wh mockWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrMalformedPayload, err)
	}
	if wh.Kind == "" {
		return nil, fmt.Errorf("%w: missing kind", domainErrors.ErrMalformedPayload)
	}
	return &Event{
		Kind:                  EventKind(wh.Kind),
		TransactionID:         wh.TransactionID,
		ProviderTransactionID: wh.ProviderTransactionID,
		ProviderRefundID:      wh.ProviderRefundID,
		RefundID:              wh.RefundID,
		Amount:                wh.Amount,
		Currency:              wh.Currency,
		ProviderEventID:       wh.EventID,
	}, nil
}

func (p *MockProvider) Verify(_ []byte, header http.Header) error {
	if p.requireHeader == "" {
		return nil
	}
	if header.Get(p.requireHeader) != "valid" {
		return domainErrors.ErrSignatureInvalid
	}
	return nil
}

func (p *MockProvider) WebhookAck(EventKind) Ack {
	return Ack{ContentType: "application/json", Body: []byte(`{"received":true}`)}
}

func (p *MockProvider) sleep(ctx context.Context) error {
	if p.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(p.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
