package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cardgateSecret = "whsec_test_secret"

func testCardgate(t *testing.T, doer httpDoer) *Cardgate {
	t.Helper()
	cg, err := NewCardgate(CardgateConfig{
		BaseURL:       "https://api.cardgate.test",
		APIKey:        "sk_test_123",
		WebhookSecret: cardgateSecret,
	})
	require.NoError(t, err)
	if doer != nil {
		cg.client = doer
	}
	return cg
}

func signCardgate(body []byte) string {
	mac := hmac.New(sha256.New, []byte(cardgateSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestNewCardgate_RequiresCredentials(t *testing.T) {
	_, err := NewCardgate(CardgateConfig{})
	assert.ErrorIs(t, err, domainErrors.ErrProviderConfig)
}

func TestCardgate_CreatePayment(t *testing.T) {
	doer := &fakeDoer{body: `{"id":"pi_123","status":"requires_action","client_secret":"pi_123_secret","checkout_url":"https://pay.cardgate.test/pi_123","expires_at":1756600000}`}
	cg := testCardgate(t, doer)

	res, err := cg.CreatePayment(context.Background(), CreateRequest{
		TransactionID: "tx-1",
		Amount:        4999,
		Currency:      "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", res.ProviderTransactionID)
	assert.Equal(t, "https://pay.cardgate.test/pi_123", res.PaymentURL)
	assert.Equal(t, "pi_123_secret", res.PaymentData["client_secret"])
	require.NotNil(t, res.ExpiresAt)

	assert.Equal(t, "Bearer sk_test_123", doer.lastReq.Header.Get("Authorization"))
	assert.Contains(t, string(doer.lastBody), `"reference":"tx-1"`)
}

func TestCardgate_CreatePayment_Rejected(t *testing.T) {
	doer := &fakeDoer{status: 402, body: `{"error":"card_declined"}`}
	cg := testCardgate(t, doer)

	_, err := cg.CreatePayment(context.Background(), CreateRequest{TransactionID: "tx-1", Amount: 100, Currency: "USD"})
	assert.ErrorIs(t, err, domainErrors.ErrProviderRejected)
}

func TestCardgate_VerifyPayment(t *testing.T) {
	tests := []struct {
		providerStatus string
		want           Status
	}{
		{"succeeded", StatusCompleted},
		{"canceled", StatusCancelled},
		{"payment_failed", StatusFailed},
		{"requires_action", StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.providerStatus, func(t *testing.T) {
			doer := &fakeDoer{body: `{"id":"pi_123","status":"` + tt.providerStatus + `"}`}
			cg := testCardgate(t, doer)
			got, err := cg.VerifyPayment(context.Background(), "pi_123")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCardgate_ProcessRefund(t *testing.T) {
	doer := &fakeDoer{body: `{"id":"re_1","status":"succeeded"}`}
	cg := testCardgate(t, doer)

	res, err := cg.ProcessRefund(context.Background(), RefundRequest{
		ProviderTransactionID: "pi_123",
		RefundID:              "rf-1",
		Amount:                4999,
		Currency:              "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", res.ProviderRefundID)
	assert.True(t, res.Completed)
}

func TestCardgate_VerifyRefund(t *testing.T) {
	tests := []struct {
		providerStatus string
		want           Status
	}{
		{"succeeded", StatusCompleted},
		{"failed", StatusFailed},
		{"canceled", StatusFailed},
		{"pending", StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.providerStatus, func(t *testing.T) {
			doer := &fakeDoer{body: `{"id":"re_1","status":"` + tt.providerStatus + `"}`}
			cg := testCardgate(t, doer)
			got, err := cg.VerifyRefund(context.Background(), "re_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, doer.lastReq.URL.Path, "/v1/refunds/re_1")
		})
	}
}

func TestCardgate_ParseWebhook_PaymentSucceeded(t *testing.T) {
	cg := testCardgate(t, nil)
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","amount":4999,"currency":"usd"}}}`)

	event, err := cg.ParseWebhook(body, nil)
	require.NoError(t, err)
	assert.Equal(t, EventPaymentCompleted, event.Kind)
	assert.Equal(t, "pi_123", event.ProviderTransactionID)
	assert.Equal(t, int64(4999), event.Amount)
	assert.Equal(t, "USD", event.Currency)
	assert.Equal(t, "evt_1", event.ProviderEventID)
}

func TestCardgate_ParseWebhook_RefundSucceeded(t *testing.T) {
	cg := testCardgate(t, nil)
	body := []byte(`{"id":"evt_2","type":"refund.succeeded","data":{"object":{"id":"re_1","payment_intent":"pi_123","reference":"rf-1","amount":1000,"currency":"usd"}}}`)

	event, err := cg.ParseWebhook(body, nil)
	require.NoError(t, err)
	assert.Equal(t, EventRefundCompleted, event.Kind)
	assert.Equal(t, "pi_123", event.ProviderTransactionID)
	assert.Equal(t, "re_1", event.ProviderRefundID)
	assert.Equal(t, "rf-1", event.RefundID)
}

func TestCardgate_ParseWebhook_Malformed(t *testing.T) {
	cg := testCardgate(t, nil)

	_, err := cg.ParseWebhook([]byte(`not json`), nil)
	assert.ErrorIs(t, err, domainErrors.ErrMalformedPayload)

	_, err = cg.ParseWebhook([]byte(`{}`), nil)
	assert.ErrorIs(t, err, domainErrors.ErrMalformedPayload)

	_, err = cg.ParseWebhook([]byte(`{"id":"evt_1","type":"subscription.created"}`), nil)
	assert.ErrorIs(t, err, domainErrors.ErrMalformedPayload)
}

func TestCardgate_Verify(t *testing.T) {
	cg := testCardgate(t, nil)
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)

	header := http.Header{}
	header.Set(cardgateSignatureHeader, signCardgate(body))
	assert.NoError(t, cg.Verify(body, header))
}

func TestCardgate_Verify_TamperedBody(t *testing.T) {
	cg := testCardgate(t, nil)
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)

	header := http.Header{}
	header.Set(cardgateSignatureHeader, signCardgate(body))

	tampered := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","amount":1}`)
	assert.ErrorIs(t, cg.Verify(tampered, header), domainErrors.ErrSignatureInvalid)
}

func TestCardgate_Verify_MissingHeader(t *testing.T) {
	cg := testCardgate(t, nil)
	assert.ErrorIs(t, cg.Verify([]byte(`{}`), http.Header{}), domainErrors.ErrSignatureInvalid)
}

func TestCardgate_WebhookAck(t *testing.T) {
	cg := testCardgate(t, nil)
	ack := cg.WebhookAck(EventPaymentCompleted)
	assert.Equal(t, "application/json", ack.ContentType)
	assert.Equal(t, `{"received":true}`, string(ack.Body))
}
