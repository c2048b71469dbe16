package providers

import (
	"context"
	"net/http"
	"time"
)

// EventKind is the normalized event type shared by all provider webhooks.
type EventKind string

const (
	EventPaymentCompleted EventKind = "payment.completed"
	EventPaymentFailed    EventKind = "payment.failed"
	EventPaymentCancelled EventKind = "payment.cancelled"
	EventRefundCompleted  EventKind = "refund.completed"
	EventRefundFailed     EventKind = "refund.failed"
)

// Status is the normalized result of an active status poll.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// CreateRequest asks a provider to initiate a payment.
type CreateRequest struct {
	TransactionID string // our reference, echoed back in webhooks
	OrderID       string
	Amount        int64 // minor units
	Currency      string
	Description   string
	ReturnURL     string
	CancelURL     string
	NotifyURL     string
}

// CreateResult carries everything the client needs to resume the flow.
type CreateResult struct {
	ProviderTransactionID string // empty until the provider assigns one
	PaymentURL            string
	QRCodeURL             string
	PaymentData           map[string]any
	ExpiresAt             *time.Time
}

// RefundRequest asks a provider to reverse a settled payment.
type RefundRequest struct {
	ProviderTransactionID string
	RefundID              string // our reference
	Amount                int64
	Currency              string
	Reason                string
}

// RefundResult reports the provider's refund reference. Completed is true
// when the provider settled the refund synchronously; wallet providers
// usually confirm later via webhook instead.
type RefundResult struct {
	ProviderRefundID string
	Completed        bool
}

// Event is a provider webhook translated into the engine's shape.
// ParseWebhook is pure: no network, no storage.
type Event struct {
	Kind                  EventKind
	TransactionID         string // our reference, when the provider echoes it
	ProviderTransactionID string
	ProviderRefundID      string // set for refund events
	RefundID              string // our refund reference, when the provider echoes it
	Amount                int64  // 0 when the provider omits it
	Currency              string
	ProviderEventID       string
}

// Ack is the exact acknowledgment a provider expects back. Providers retry
// indefinitely unless it matches byte-for-byte; it is wire protocol, not
// business logic.
type Ack struct {
	ContentType string
	Body        []byte
}

// Provider adapts one payment rail to the engine's generic operations. All
// protocol quirks (payload formats, signature schemes, status vocabularies)
// live behind this interface.
type Provider interface {
	// Name returns the provider key used in routing and configuration.
	Name() string

	// CreatePayment initiates a payment with the provider.
	CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error)

	// VerifyPayment actively polls the payment status. Fallback for lost
	// webhooks.
	VerifyPayment(ctx context.Context, providerTxID string) (Status, error)

	// ParseWebhook translates a raw webhook delivery into a normalized event.
	ParseWebhook(body []byte, header http.Header) (*Event, error)

	// ProcessRefund initiates a refund with the provider.
	ProcessRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)

	// VerifyRefund actively polls the refund status by the provider's refund
	// reference. Fallback for refunds whose confirmation webhook never arrived.
	VerifyRefund(ctx context.Context, providerRefundID string) (Status, error)

	// WebhookAck returns the provider's expected acknowledgment body.
	WebhookAck(kind EventKind) Ack
}

// Verifier checks that a webhook delivery genuinely originates from the
// provider. Schemes differ per rail: HMAC over the raw body, HMAC over
// sorted payload fields, or an RSA signature against the provider's
// published key.
type Verifier interface {
	Verify(body []byte, header http.Header) error
}

// Adapter is what the registry holds: every concrete provider implements
// both halves.
type Adapter interface {
	Provider
	Verifier
}
