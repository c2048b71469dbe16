package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/payments/internal/domain/payment"
	"github.com/oakmart/payments/internal/providers"
	"github.com/oakmart/payments/internal/service"
	"github.com/oakmart/payments/internal/testutil"
)

type controllerFixture struct {
	txRepo     *testutil.MockTransactionRepository
	refundRepo *testutil.MockRefundRepository
	methodRepo *testutil.MockMethodRepository
	orders     *testutil.MockOrderService
	ledger     *service.LedgerService
	router     *chi.Mux
}

func setupController(t *testing.T) *controllerFixture {
	t.Helper()

	f := &controllerFixture{
		txRepo:     testutil.NewMockTransactionRepository(),
		refundRepo: testutil.NewMockRefundRepository(),
		methodRepo: testutil.NewMockMethodRepository(),
		orders:     testutil.NewMockOrderService(),
	}

	registry := providers.NewRegistry(providers.NewMockProvider("mockpay"))
	f.ledger = service.NewLedgerService(
		f.txRepo, f.refundRepo, f.methodRepo,
		testutil.NewMockOutboxRepository(), f.orders,
		testutil.NewMockTransactionManager(), registry,
		service.LedgerConfig{
			SupportedCurrencies: []string{"USD", "EUR"},
			PublicBaseURL:       "http://localhost:8080",
		},
		nil,
		zerolog.Nop(),
	)

	h := NewPaymentController(f.ledger)
	r := chi.NewRouter()
	r.Post("/payment/create", h.CreatePayment)
	r.Get("/payment/status/{transaction_id}", h.GetStatus)
	r.Post("/payment/refund", h.RefundPayment)
	r.Get("/payment/refund/{refund_id}", h.GetRefund)
	r.Get("/payment/methods", h.ListMethods)
	r.Get("/payment/transactions", h.ListTransactions)
	f.router = r

	return f
}

func (f *controllerFixture) seedOrderAndMethod(orderID string, amount int64) *payment.Method {
	method := testutil.NewTestMethod("card", "mockpay")
	f.methodRepo.Add(method)
	f.orders.Add(testutil.NewTestOrder(orderID, amount, "USD"))
	return method
}

func (f *controllerFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestCreatePayment_Success(t *testing.T) {
	f := setupController(t)
	f.seedOrderAndMethod("order-1", 2500)

	rec := f.do(http.MethodPost, "/payment/create", CreatePaymentRequest{
		OrderID:       "order-1",
		PaymentMethod: "card",
		Amount:        2500,
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp CreatePaymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.TransactionID)
	assert.Equal(t, "pending", resp.Status)
	assert.NotNil(t, resp.PaymentURL)
}

func TestCreatePayment_ValidationError(t *testing.T) {
	f := setupController(t)

	tests := []struct {
		name string
		req  CreatePaymentRequest
	}{
		{"missing order", CreatePaymentRequest{PaymentMethod: "card", Amount: 100}},
		{"missing payment method", CreatePaymentRequest{OrderID: "order-1", Amount: 100}},
		{"zero amount", CreatePaymentRequest{OrderID: "order-1", PaymentMethod: "card"}},
		{"negative amount", CreatePaymentRequest{OrderID: "order-1", PaymentMethod: "card", Amount: -5}},
		{"bad currency", CreatePaymentRequest{OrderID: "order-1", PaymentMethod: "card", Amount: 100, Currency: "DOLLARS"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/payment/create", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, "validation_error", resp.Code)
		})
	}
}

func TestCreatePayment_AmountMismatch(t *testing.T) {
	f := setupController(t)
	f.seedOrderAndMethod("order-1", 2500)

	rec := f.do(http.MethodPost, "/payment/create", CreatePaymentRequest{
		OrderID:       "order-1",
		PaymentMethod: "card",
		Amount:        2400,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestCreatePayment_UnknownMethod(t *testing.T) {
	f := setupController(t)
	f.orders.Add(testutil.NewTestOrder("order-1", 2500, "USD"))

	rec := f.do(http.MethodPost, "/payment/create", CreatePaymentRequest{
		OrderID:       "order-1",
		PaymentMethod: "nope",
		Amount:        2500,
	})

	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestCreatePayment_UnknownOrder(t *testing.T) {
	f := setupController(t)
	f.methodRepo.Add(testutil.NewTestMethod("card", "mockpay"))

	rec := f.do(http.MethodPost, "/payment/create", CreatePaymentRequest{
		OrderID:       "missing",
		PaymentMethod: "card",
		Amount:        2500,
	})

	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestGetStatus_Success(t *testing.T) {
	f := setupController(t)
	method := f.seedOrderAndMethod("order-1", 2500)

	tx := testutil.NewCompletedTransaction("order-1", "mockpay", method.ID, 2500, "USD")
	f.txRepo.Add(tx)

	rec := f.do(http.MethodGet, "/payment/status/"+tx.ID.String(), nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "completed", resp.Status)
	require.NotNil(t, resp.Transaction)
	assert.Equal(t, tx.ID.String(), resp.Transaction.ID)
	assert.Empty(t, resp.Transaction.Refunds)
}

func TestGetStatus_InvalidID(t *testing.T) {
	f := setupController(t)

	rec := f.do(http.MethodGet, "/payment/status/not-a-uuid", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStatus_NotFound(t *testing.T) {
	f := setupController(t)

	rec := f.do(http.MethodGet, "/payment/status/"+uuid.New().String(), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTransactions_FilterByStatus(t *testing.T) {
	f := setupController(t)
	method := f.seedOrderAndMethod("order-1", 2500)

	f.txRepo.Add(testutil.NewCompletedTransaction("order-1", "mockpay", method.ID, 2500, "USD"))
	f.txRepo.Add(testutil.NewTestTransaction("order-2", "mockpay", method.ID, 1000, "USD"))

	rec := f.do(http.MethodGet, "/payment/transactions?status=completed", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp TransactionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, "completed", resp.Transactions[0].Status)
}

func TestRefundPayment_FullRefund(t *testing.T) {
	f := setupController(t)
	method := f.seedOrderAndMethod("order-1", 2500)

	tx := testutil.NewCompletedTransaction("order-1", "mockpay", method.ID, 2500, "USD")
	f.txRepo.Add(tx)

	rec := f.do(http.MethodPost, "/payment/refund",
		RefundPaymentRequest{TransactionID: tx.ID.String(), Reason: "customer request"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp RefundResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RefundID)
	assert.Equal(t, "completed", resp.Status)
}

func TestRefundPayment_PartialAmount(t *testing.T) {
	f := setupController(t)
	method := f.seedOrderAndMethod("order-1", 2500)

	tx := testutil.NewCompletedTransaction("order-1", "mockpay", method.ID, 2500, "USD")
	f.txRepo.Add(tx)

	rec := f.do(http.MethodPost, "/payment/refund",
		RefundPaymentRequest{TransactionID: tx.ID.String(), Amount: testutil.Int64Ptr(1000)})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp RefundResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RefundID)

	refundID := uuid.MustParse(resp.RefundID)
	stored, err := f.refundRepo.GetByID(context.Background(), refundID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.Amount.Value)
}

func TestRefundPayment_MissingTransactionID(t *testing.T) {
	f := setupController(t)

	rec := f.do(http.MethodPost, "/payment/refund", RefundPaymentRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Code)
}

func TestRefundPayment_ExceedsAmount(t *testing.T) {
	f := setupController(t)
	method := f.seedOrderAndMethod("order-1", 2500)

	tx := testutil.NewCompletedTransaction("order-1", "mockpay", method.ID, 2500, "USD")
	f.txRepo.Add(tx)

	rec := f.do(http.MethodPost, "/payment/refund",
		RefundPaymentRequest{TransactionID: tx.ID.String(), Amount: testutil.Int64Ptr(9999)})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "refund_exceeds_amount", resp.Code)
}

func TestRefundPayment_NotCompleted(t *testing.T) {
	f := setupController(t)
	method := f.seedOrderAndMethod("order-1", 2500)

	tx := testutil.NewTestTransaction("order-1", "mockpay", method.ID, 2500, "USD")
	f.txRepo.Add(tx)

	rec := f.do(http.MethodPost, "/payment/refund",
		RefundPaymentRequest{TransactionID: tx.ID.String()})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestGetRefund_NotFound(t *testing.T) {
	f := setupController(t)

	rec := f.do(http.MethodGet, "/payment/refund/"+uuid.New().String(), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMethods_OnlyActive(t *testing.T) {
	f := setupController(t)

	active := testutil.NewTestMethod("card", "mockpay")
	inactive := testutil.NewTestMethod("legacy_wallet", "mockpay")
	inactive.Active = false
	f.methodRepo.Add(active)
	f.methodRepo.Add(inactive)

	rec := f.do(http.MethodGet, "/payment/methods", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp MethodsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Methods, 1)
	assert.Equal(t, "card", resp.Methods[0].Code)
}
