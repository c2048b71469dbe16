package payment

import (
	"time"

	"github.com/google/uuid"
)

// Method is a payment method offered at checkout. Methods are administered by
// the storefront admin console; the engine treats them as read-only at
// request time.
type Method struct {
	ID          uuid.UUID
	Code        string // unique key used in checkout requests, e.g. "wallet_a"
	Provider    string // provider adapter key
	DisplayName string
	Active      bool
	SortOrder   int
	Config      map[string]string // provider-specific, opaque to the engine
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
