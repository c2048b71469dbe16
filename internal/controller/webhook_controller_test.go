package controller

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/payments/internal/domain/payment"
	"github.com/oakmart/payments/internal/infrastructure/observability"
	"github.com/oakmart/payments/internal/providers"
	"github.com/oakmart/payments/internal/service"
	"github.com/oakmart/payments/internal/testutil"
)

type webhookControllerFixture struct {
	*controllerFixture
	webhookRepo *testutil.MockWebhookRepository
	whRouter    *chi.Mux
}

func setupWebhookController(t *testing.T, opts ...providers.MockProviderOption) *webhookControllerFixture {
	t.Helper()

	base := setupController(t)
	webhookRepo := testutil.NewMockWebhookRepository()

	registry := providers.NewRegistry(providers.NewMockProvider("mockpay", opts...))
	webhooks := service.NewWebhookService(
		registry, webhookRepo, base.ledger,
		testutil.NewMockTransactionManager(), zerolog.Nop(),
	)

	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	h := NewWebhookController(webhooks, metrics)

	r := chi.NewRouter()
	r.Post("/payment/webhook/{provider}", h.Notify)
	r.Get("/payment/webhooks/failed", h.ListFailed)

	return &webhookControllerFixture{
		controllerFixture: base,
		webhookRepo:       webhookRepo,
		whRouter:          r,
	}
}

func (f *webhookControllerFixture) notify(provider string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payment/webhook/"+provider, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.whRouter.ServeHTTP(rec, req)
	return rec
}

func completedBody(tx *payment.Transaction) []byte {
	body, _ := json.Marshal(map[string]any{
		"event_id":                "evt_1",
		"kind":                    "payment.completed",
		"transaction_id":          tx.ID.String(),
		"provider_transaction_id": "mock_ptx_1",
		"amount":                  tx.Amount.Value,
		"currency":                tx.Amount.Currency,
	})
	return body
}

func TestNotify_CompletedPayment(t *testing.T) {
	f := setupWebhookController(t)
	method := f.seedOrderAndMethod("order-1", 2500)

	tx := testutil.NewTestTransaction("order-1", "mockpay", method.ID, 2500, "USD")
	f.txRepo.Add(tx)

	rec := f.notify("mockpay", completedBody(tx))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	assert.Equal(t, payment.StatusCompleted, f.txRepo.Get(tx.ID).Status)
}

func TestNotify_UnknownProvider(t *testing.T) {
	f := setupWebhookController(t)

	rec := f.notify("ghostpay", []byte(`{}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotify_DuplicateStillAcked(t *testing.T) {
	f := setupWebhookController(t)
	method := f.seedOrderAndMethod("order-1", 2500)

	tx := testutil.NewTestTransaction("order-1", "mockpay", method.ID, 2500, "USD")
	f.txRepo.Add(tx)

	body := completedBody(tx)
	first := f.notify("mockpay", body)
	second := f.notify("mockpay", body)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, `{"received":true}`, second.Body.String())
}

func TestNotify_MalformedStillAcked(t *testing.T) {
	f := setupWebhookController(t)

	rec := f.notify("mockpay", []byte(`not json at all`))

	// Recorded for review; acking stops pointless redelivery.
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotify_InvalidSignatureStillAcked(t *testing.T) {
	f := setupWebhookController(t, providers.WithSignatureHeader("X-Mock-Signature"))
	method := f.seedOrderAndMethod("order-1", 2500)

	tx := testutil.NewTestTransaction("order-1", "mockpay", method.ID, 2500, "USD")
	f.txRepo.Add(tx)

	rec := f.notify("mockpay", completedBody(tx))

	assert.Equal(t, http.StatusOK, rec.Code)
	// Unverified deliveries never touch the ledger.
	assert.Equal(t, payment.StatusPending, f.txRepo.Get(tx.ID).Status)
}

func TestNotify_PayloadTooLarge(t *testing.T) {
	f := setupWebhookController(t)

	rec := f.notify("mockpay", bytes.Repeat([]byte("a"), maxWebhookBodySize+1))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestListFailed_ReturnsRejectedDeliveries(t *testing.T) {
	f := setupWebhookController(t)

	f.notify("mockpay", []byte(`not json at all`))

	req := httptest.NewRequest(http.MethodGet, "/payment/webhooks/failed", nil)
	rec := httptest.NewRecorder()
	f.whRouter.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp WebhookEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.False(t, resp.Events[0].Processed)
	assert.NotNil(t, resp.Events[0].ErrorMessage)
}

func TestNotify_RecordsMetricsByOutcome(t *testing.T) {
	f := setupWebhookController(t)
	method := f.seedOrderAndMethod("order-1", 2500)

	tx := testutil.NewTestTransaction("order-1", "mockpay", method.ID, 2500, "USD")
	f.txRepo.Add(tx)

	body := completedBody(tx)
	f.notify("mockpay", body)
	f.notify("mockpay", body)

	// Two deliveries, one processed and one duplicate; both acked with 200.
	assert.Equal(t, payment.StatusCompleted, f.txRepo.Get(tx.ID).Status)
}
