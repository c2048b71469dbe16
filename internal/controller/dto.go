package controller

import (
	"time"

	"github.com/oakmart/payments/internal/domain/payment"
	"github.com/oakmart/payments/internal/domain/webhook"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (string IDs, validation tags).
// Controllers convert these to service layer DTOs before calling business logic.

// CreatePaymentRequest holds the input for initiating a checkout payment.
// Amounts are integers in the smallest currency unit.
type CreatePaymentRequest struct {
	OrderID       string  `json:"order_id" validate:"required"`
	PaymentMethod string  `json:"payment_method" validate:"required"`
	Amount        int64   `json:"amount" validate:"required,gt=0"`
	Currency      string  `json:"currency,omitempty" validate:"omitempty,len=3"`
	ReturnURL     string  `json:"return_url,omitempty" validate:"omitempty,url"`
	CancelURL     string  `json:"cancel_url,omitempty" validate:"omitempty,url"`
	UserID        *string `json:"user_id,omitempty" validate:"omitempty,uuid"`
}

// RefundPaymentRequest holds the input for refunding a transaction. A nil
// amount refunds the remaining refundable balance.
type RefundPaymentRequest struct {
	TransactionID string `json:"transaction_id" validate:"required,uuid"`
	Amount        *int64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Reason        string `json:"reason,omitempty" validate:"max=500"`
}

// --- Response DTOs ---
// Checkout-facing responses share a {success, ...} envelope; the storefront
// branches on the flag before reading anything else.

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// CreatePaymentResponse returns what the storefront needs to send the
// shopper to the provider: a redirect URL, a QR code, or raw payment data.
type CreatePaymentResponse struct {
	Success       bool           `json:"success"`
	TransactionID string         `json:"transaction_id"`
	Status        string         `json:"status"`
	PaymentURL    *string        `json:"payment_url,omitempty"`
	QRCodeURL     *string        `json:"qr_code_url,omitempty"`
	PaymentData   map[string]any `json:"payment_data,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
}

// TransactionView represents a payment transaction in API responses.
type TransactionView struct {
	ID                    string        `json:"id"`
	OrderID               string        `json:"order_id"`
	Amount                int64         `json:"amount"`
	Currency              string        `json:"currency"`
	Status                string        `json:"status"`
	Provider              string        `json:"provider"`
	ProviderTransactionID *string       `json:"provider_transaction_id,omitempty"`
	PaymentURL            *string       `json:"payment_url,omitempty"`
	QRCodeURL             *string       `json:"qr_code_url,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	PaidAt                *time.Time    `json:"paid_at,omitempty"`
	ExpiresAt             *time.Time    `json:"expires_at,omitempty"`
	Refunds               []*RefundView `json:"refunds,omitempty"`
}

func FromTransaction(t *payment.Transaction) *TransactionView {
	return &TransactionView{
		ID:                    t.ID.String(),
		OrderID:               t.OrderID,
		Amount:                t.Amount.Value,
		Currency:              t.Amount.Currency,
		Status:                string(t.Status),
		Provider:              t.Provider,
		ProviderTransactionID: t.ProviderTransactionID,
		PaymentURL:            t.PaymentURL,
		QRCodeURL:             t.QRCodeURL,
		CreatedAt:             t.CreatedAt,
		PaidAt:                t.PaidAt,
		ExpiresAt:             t.ExpiresAt,
	}
}

// StatusResponse answers GET /payment/status/{transaction_id}.
type StatusResponse struct {
	Success     bool             `json:"success"`
	Status      string           `json:"status"`
	Transaction *TransactionView `json:"transaction"`
}

// RefundView represents a refund in API responses.
type RefundView struct {
	ID               string     `json:"id"`
	TransactionID    string     `json:"transaction_id"`
	OrderID          string     `json:"order_id"`
	Amount           int64      `json:"amount"`
	Currency         string     `json:"currency"`
	Reason           string     `json:"reason,omitempty"`
	Status           string     `json:"status"`
	ProviderRefundID *string    `json:"provider_refund_id,omitempty"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func FromRefund(r *payment.Refund) *RefundView {
	return &RefundView{
		ID:               r.ID.String(),
		TransactionID:    r.TransactionID.String(),
		OrderID:          r.OrderID,
		Amount:           r.Amount.Value,
		Currency:         r.Amount.Currency,
		Reason:           r.Reason,
		Status:           string(r.Status),
		ProviderRefundID: r.ProviderRefundID,
		ProcessedAt:      r.ProcessedAt,
		CreatedAt:        r.CreatedAt,
	}
}

// RefundResponse answers POST /payment/refund.
type RefundResponse struct {
	Success  bool   `json:"success"`
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// RefundDetailResponse answers GET /payment/refund/{refund_id}.
type RefundDetailResponse struct {
	Success bool        `json:"success"`
	Refund  *RefundView `json:"refund"`
}

// MethodView represents an available payment method at checkout.
type MethodView struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
	Provider    string `json:"provider"`
}

func FromMethod(m *payment.Method) *MethodView {
	return &MethodView{
		Code:        m.Code,
		DisplayName: m.DisplayName,
		Provider:    m.Provider,
	}
}

// MethodsResponse answers GET /payment/methods.
type MethodsResponse struct {
	Success bool          `json:"success"`
	Methods []*MethodView `json:"methods"`
}

// TransactionsResponse answers GET /payment/transactions.
type TransactionsResponse struct {
	Success      bool               `json:"success"`
	Transactions []*TransactionView `json:"transactions"`
}

// WebhookEventView represents a recorded webhook delivery for the
// operator review endpoint. The raw payload is omitted.
type WebhookEventView struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	EventType    string    `json:"event_type,omitempty"`
	Processed    bool      `json:"processed"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func FromWebhookEvent(e *webhook.Event) *WebhookEventView {
	return &WebhookEventView{
		ID:           e.ID.String(),
		Provider:     e.Provider,
		EventType:    e.EventType,
		Processed:    e.Processed,
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    e.CreatedAt,
	}
}

// WebhookEventsResponse answers GET /payment/webhooks/failed.
type WebhookEventsResponse struct {
	Success bool                `json:"success"`
	Events  []*WebhookEventView `json:"events"`
}
