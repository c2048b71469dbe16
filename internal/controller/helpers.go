package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
)

var validate = validator.New()

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// errorMappings carries a fixed client-facing message per sentinel. Provider
// adapters wrap their own decline reasons into these errors; that text stays
// in the logs and never reaches the checkout response.
var errorMappings = []errorMapping{
	{domainErrors.ErrTransactionNotFound, http.StatusNotFound, "not_found", "transaction not found"},
	{domainErrors.ErrRefundNotFound, http.StatusNotFound, "not_found", "refund not found"},
	{domainErrors.ErrMethodNotFound, http.StatusNotFound, "not_found", "payment method not found"},
	{domainErrors.ErrOrderNotFound, http.StatusNotFound, "not_found", "order not found"},
	{domainErrors.ErrProviderNotFound, http.StatusNotFound, "unknown_provider", "unknown payment provider"},
	{domainErrors.ErrMethodInactive, http.StatusUnprocessableEntity, "method_inactive", "payment method is not available"},
	{domainErrors.ErrUnsupportedCurrency, http.StatusBadRequest, "unsupported_currency", "currency is not supported"},
	{domainErrors.ErrNotRefundable, http.StatusUnprocessableEntity, "not_refundable", "transaction cannot be refunded"},
	{domainErrors.ErrRefundExceedsAmount, http.StatusUnprocessableEntity, "refund_exceeds_amount", "refund exceeds the refundable amount"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition", "operation conflicts with the current payment state"},
	{domainErrors.ErrProviderRejected, http.StatusUnprocessableEntity, "provider_rejected", "payment could not be completed"},
	{domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable", "payment provider is temporarily unavailable"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	// Validation messages describe the caller's own input and are safe to echo.
	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "validation_error"})
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			writeJSON(w, m.status, ErrorResponse{Error: m.message, Code: m.code})
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: domainErr.Message, Code: domainErr.Code})
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: "internal_error"})
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
