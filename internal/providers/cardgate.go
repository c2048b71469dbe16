package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
)

// Cardgate is the card-network gateway. JSON wire protocol; webhooks are
// signed with an HMAC-SHA256 of the raw body carried in the
// X-Cardgate-Signature header.
const cardgateSignatureHeader = "X-Cardgate-Signature"

type CardgateConfig struct {
	BaseURL        string
	APIKey         string
	WebhookSecret  string
	RequestTimeout time.Duration
}

type Cardgate struct {
	cfg    CardgateConfig
	client httpDoer
}

func NewCardgate(cfg CardgateConfig) (*Cardgate, error) {
	if cfg.APIKey == "" || cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: cardgate requires api_key and webhook_secret", domainErrors.ErrProviderConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cardgate.example.com"
	}
	return &Cardgate{cfg: cfg, client: newHTTPClient(cfg.RequestTimeout)}, nil
}

func (c *Cardgate) Name() string { return "cardgate" }

type cardgateIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
	CheckoutURL  string `json:"checkout_url"`
	ExpiresAt    int64  `json:"expires_at"`
}

func (c *Cardgate) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	payload, err := json.Marshal(map[string]any{
		"amount":      req.Amount,
		"currency":    strings.ToLower(req.Currency),
		"reference":   req.TransactionID,
		"description": req.Description,
		"return_url":  req.ReturnURL,
		"cancel_url":  req.CancelURL,
		"webhook_url": req.NotifyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal intent: %w", err)
	}

	body, err := doRequest(ctx, c.client, http.MethodPost, c.cfg.BaseURL+"/v1/payment_intents", payload, c.authHeaders)
	if err != nil {
		return nil, err
	}

	var intent cardgateIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, fmt.Errorf("%w: decode intent: %v", domainErrors.ErrProviderUnavailable, err)
	}

	result := &CreateResult{
		ProviderTransactionID: intent.ID,
		PaymentURL:            intent.CheckoutURL,
		PaymentData:           map[string]any{"client_secret": intent.ClientSecret},
	}
	if intent.ExpiresAt > 0 {
		t := time.Unix(intent.ExpiresAt, 0)
		result.ExpiresAt = &t
	}
	return result, nil
}

func (c *Cardgate) VerifyPayment(ctx context.Context, providerTxID string) (Status, error) {
	body, err := doRequest(ctx, c.client, http.MethodGet, c.cfg.BaseURL+"/v1/payment_intents/"+providerTxID, nil, c.authHeaders)
	if err != nil {
		return "", err
	}

	var intent cardgateIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return "", fmt.Errorf("%w: decode intent: %v", domainErrors.ErrProviderUnavailable, err)
	}

	switch intent.Status {
	case "succeeded":
		return StatusCompleted, nil
	case "canceled":
		return StatusCancelled, nil
	case "payment_failed":
		return StatusFailed, nil
	default:
		return StatusPending, nil
	}
}

func (c *Cardgate) ProcessRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	payload, err := json.Marshal(map[string]any{
		"payment_intent": req.ProviderTransactionID,
		"amount":         req.Amount,
		"reference":      req.RefundID,
		"reason":         req.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal refund: %w", err)
	}

	body, err := doRequest(ctx, c.client, http.MethodPost, c.cfg.BaseURL+"/v1/refunds", payload, c.authHeaders)
	if err != nil {
		return nil, err
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &refund); err != nil {
		return nil, fmt.Errorf("%w: decode refund: %v", domainErrors.ErrProviderUnavailable, err)
	}

	// Card refunds settle synchronously unless the network defers them.
	return &RefundResult{
		ProviderRefundID: refund.ID,
		Completed:        refund.Status == "succeeded",
	}, nil
}

func (c *Cardgate) VerifyRefund(ctx context.Context, providerRefundID string) (Status, error) {
	body, err := doRequest(ctx, c.client, http.MethodGet, c.cfg.BaseURL+"/v1/refunds/"+providerRefundID, nil, c.authHeaders)
	if err != nil {
		return "", err
	}

	var refund struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &refund); err != nil {
		return "", fmt.Errorf("%w: decode refund: %v", domainErrors.ErrProviderUnavailable, err)
	}

	switch refund.Status {
	case "succeeded":
		return StatusCompleted, nil
	case "failed", "canceled":
		return StatusFailed, nil
	default:
		return StatusPending, nil
	}
}

type cardgateWebhook struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string `json:"id"`
			PaymentIntent string `json:"payment_intent"`
			Reference     string `json:"reference"`
			Amount        int64  `json:"amount"`
			Currency      string `json:"currency"`
		} `json:"object"`
	} `json:"data"`
}

func (c *Cardgate) ParseWebhook(body []byte, _ http.Header) (*Event, error) {
	var wh cardgateWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrMalformedPayload, err)
	}
	if wh.ID == "" || wh.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", domainErrors.ErrMalformedPayload)
	}

	event := &Event{
		TransactionID:   wh.Data.Object.Reference,
		ProviderEventID: wh.ID,
		Amount:          wh.Data.Object.Amount,
		Currency:        strings.ToUpper(wh.Data.Object.Currency),
	}

	switch wh.Type {
	case "payment_intent.succeeded":
		event.Kind = EventPaymentCompleted
		event.ProviderTransactionID = wh.Data.Object.ID
	case "payment_intent.payment_failed":
		event.Kind = EventPaymentFailed
		event.ProviderTransactionID = wh.Data.Object.ID
	case "payment_intent.canceled":
		event.Kind = EventPaymentCancelled
		event.ProviderTransactionID = wh.Data.Object.ID
	case "refund.succeeded":
		event.Kind = EventRefundCompleted
		event.ProviderTransactionID = wh.Data.Object.PaymentIntent
		event.ProviderRefundID = wh.Data.Object.ID
		event.RefundID = wh.Data.Object.Reference
	case "refund.failed":
		event.Kind = EventRefundFailed
		event.ProviderTransactionID = wh.Data.Object.PaymentIntent
		event.ProviderRefundID = wh.Data.Object.ID
		event.RefundID = wh.Data.Object.Reference
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", domainErrors.ErrMalformedPayload, wh.Type)
	}

	return event, nil
}

// Verify checks the HMAC-SHA256 of the raw body against the signature header.
func (c *Cardgate) Verify(body []byte, header http.Header) error {
	sig := header.Get(cardgateSignatureHeader)
	if sig == "" {
		return fmt.Errorf("%w: missing %s header", domainErrors.ErrSignatureInvalid, cardgateSignatureHeader)
	}

	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return domainErrors.ErrSignatureInvalid
	}
	return nil
}

func (c *Cardgate) WebhookAck(EventKind) Ack {
	return Ack{ContentType: "application/json", Body: []byte(`{"received":true}`)}
}

func (c *Cardgate) authHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}
