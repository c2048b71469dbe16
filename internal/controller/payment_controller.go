package controller

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oakmart/payments/internal/domain/payment"
	"github.com/oakmart/payments/internal/service"
)

// PaymentController handles checkout payment HTTP requests.
type PaymentController struct {
	ledger *service.LedgerService
}

func NewPaymentController(ledger *service.LedgerService) *PaymentController {
	return &PaymentController{ledger: ledger}
}

// CreatePayment handles POST /payment/create
func (h *PaymentController) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var userID *uuid.UUID
	if req.UserID != nil {
		id, err := uuid.Parse(*req.UserID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid user_id", Code: "invalid_id"})
			return
		}
		userID = &id
	}

	t, err := h.ledger.CreatePayment(r.Context(), service.CreatePaymentRequest{
		OrderID:    req.OrderID,
		MethodCode: req.PaymentMethod,
		UserID:     userID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		ReturnURL:  req.ReturnURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := CreatePaymentResponse{
		Success:       true,
		TransactionID: t.ID.String(),
		Status:        string(t.Status),
		PaymentURL:    t.PaymentURL,
		QRCodeURL:     t.QRCodeURL,
		ExpiresAt:     t.ExpiresAt,
	}
	if len(t.PaymentData) > 0 {
		resp.PaymentData = t.PaymentData
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetStatus handles GET /payment/status/{transaction_id}
func (h *PaymentController) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "transaction_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid transaction id", Code: "invalid_id"})
		return
	}

	t, refunds, err := h.ledger.GetPayment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	view := FromTransaction(t)
	for _, rf := range refunds {
		view.Refunds = append(view.Refunds, FromRefund(rf))
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Success:     true,
		Status:      string(t.Status),
		Transaction: view,
	})
}

// ListTransactions handles GET /payment/transactions
func (h *PaymentController) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := payment.ListFilter{}

	if s := r.URL.Query().Get("order_id"); s != "" {
		filter.OrderID = &s
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := payment.TransactionStatus(s)
		filter.Status = &status
	}
	if s := r.URL.Query().Get("provider"); s != "" {
		filter.Provider = &s
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	filter.SortBy = r.URL.Query().Get("sort_by")
	filter.SortOrder = r.URL.Query().Get("sort_order")

	transactions, err := h.ledger.ListPayments(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := TransactionsResponse{Success: true, Transactions: make([]*TransactionView, 0, len(transactions))}
	for _, t := range transactions {
		resp.Transactions = append(resp.Transactions, FromTransaction(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RefundPayment handles POST /payment/refund
func (h *PaymentController) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var req RefundPaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	id, err := uuid.Parse(req.TransactionID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid transaction id", Code: "invalid_id"})
		return
	}

	refund, err := h.ledger.Refund(r.Context(), service.RefundRequest{
		TransactionID: id,
		Amount:        req.Amount,
		Reason:        req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// Async providers confirm via webhook; the refund is accepted, not done.
	status := http.StatusCreated
	if refund.Status != payment.RefundCompleted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, RefundResponse{
		Success:  true,
		RefundID: refund.ID.String(),
		Status:   string(refund.Status),
	})
}

// GetRefund handles GET /payment/refund/{refund_id}
func (h *PaymentController) GetRefund(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "refund_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid refund id", Code: "invalid_id"})
		return
	}

	refund, err := h.ledger.GetRefund(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RefundDetailResponse{Success: true, Refund: FromRefund(refund)})
}

// ListMethods handles GET /payment/methods
func (h *PaymentController) ListMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.ledger.ListMethods(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := MethodsResponse{Success: true, Methods: make([]*MethodView, 0, len(methods))}
	for _, m := range methods {
		resp.Methods = append(resp.Methods, FromMethod(m))
	}
	writeJSON(w, http.StatusOK, resp)
}
