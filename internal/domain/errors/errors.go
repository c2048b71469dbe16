package errors

import (
	"errors"
	"fmt"
)

var (
	// Transaction errors
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrUnsupportedCurrency    = errors.New("unsupported currency")
	ErrTransactionExpired     = errors.New("transaction has expired")

	// Refund errors
	ErrRefundNotFound      = errors.New("refund not found")
	ErrNotRefundable       = errors.New("transaction is not refundable")
	ErrRefundExceedsAmount = errors.New("refund exceeds refundable amount")

	// Payment method errors
	ErrMethodNotFound = errors.New("payment method not found")
	ErrMethodInactive = errors.New("payment method is inactive")

	// Provider errors
	ErrProviderNotFound    = errors.New("payment provider not found")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderRejected    = errors.New("payment rejected by provider")
	ErrProviderConfig      = errors.New("invalid provider configuration")

	// Webhook errors
	ErrMalformedPayload   = errors.New("malformed webhook payload")
	ErrSignatureInvalid   = errors.New("webhook signature verification failed")
	ErrDuplicateWebhook   = errors.New("duplicate webhook delivery")
	ErrWebhookNotFound    = errors.New("webhook event not found")

	// Order errors
	ErrOrderNotFound = errors.New("order not found")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
