package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
)

func TestWriteError_SentinelMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantError  string
	}{
		{"transaction not found", domainErrors.ErrTransactionNotFound, http.StatusNotFound, "not_found", "transaction not found"},
		{"unknown provider", domainErrors.ErrProviderNotFound, http.StatusNotFound, "unknown_provider", "unknown payment provider"},
		{"method inactive", domainErrors.ErrMethodInactive, http.StatusUnprocessableEntity, "method_inactive", "payment method is not available"},
		{"unsupported currency", domainErrors.ErrUnsupportedCurrency, http.StatusBadRequest, "unsupported_currency", "currency is not supported"},
		{"refund exceeds amount", domainErrors.ErrRefundExceedsAmount, http.StatusUnprocessableEntity, "refund_exceeds_amount", "refund exceeds the refundable amount"},
		{"provider rejected", domainErrors.ErrProviderRejected, http.StatusUnprocessableEntity, "provider_rejected", "payment could not be completed"},
		{"provider unavailable", domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable", "payment provider is temporarily unavailable"},
		{"wrapped sentinel", fmt.Errorf("refund order-1: %w", domainErrors.ErrNotRefundable), http.StatusUnprocessableEntity, "not_refundable", "transaction cannot be refunded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}
}

func TestWriteError_ProviderDeclineTextNeverLeaks(t *testing.T) {
	// Adapters wrap the provider's decline reason into the error chain; the
	// response must carry only the generic message plus the machine code.
	tests := []struct {
		name string
		err  error
	}{
		{"rejected with decline reason", fmt.Errorf("%w: %s", domainErrors.ErrProviderRejected, "ACCOUNT_FROZEN_RISK_CONTROL")},
		{"unavailable with gateway detail", fmt.Errorf("%w: upstream 502 from internal-gw-7", domainErrors.ErrProviderUnavailable)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tt.err)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotContains(t, resp.Error, "ACCOUNT_FROZEN")
			assert.NotContains(t, resp.Error, "internal-gw-7")
			assert.NotContains(t, rec.Body.String(), "ACCOUNT_FROZEN")
		})
	}
}

func TestWriteError_ValidationError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, domainErrors.NewValidationError("amount", "does not match order total"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Code)
}

func TestWriteError_UnknownErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("pq: connection reset"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal_error", resp.Code)
	assert.NotContains(t, resp.Error, "pq:")
}
