package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	err := NewDomainError("invalid_transition", "cannot transition from completed to pending", ErrInvalidStateTransition)
	assert.Contains(t, err.Error(), "cannot transition from completed to pending")
	assert.Contains(t, err.Error(), ErrInvalidStateTransition.Error())
}

func TestDomainError_Unwrap(t *testing.T) {
	err := NewDomainError("provider_rejected", "card declined", ErrProviderRejected)
	assert.ErrorIs(t, err, ErrProviderRejected)
}

func TestDomainError_NoWrapped(t *testing.T) {
	err := NewDomainError("refund_failed", "refund failed", nil)
	assert.Equal(t, "refund failed", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}

func TestValidationError_Error(t *testing.T) {
	err := NewValidationError("amount", "must be greater than 0")
	assert.Equal(t, "validation failed for field amount: must be greater than 0", err.Error())
}

func TestValidationError_As(t *testing.T) {
	var target *ValidationError
	err := error(NewValidationError("currency", "unsupported"))
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, "currency", target.Field)
}
