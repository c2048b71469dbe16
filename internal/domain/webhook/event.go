package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Event is the append-only audit and idempotency record for one webhook
// delivery. The dedup key is unique: a redelivery with the same key is a
// no-op, not an error.
type Event struct {
	ID           uuid.UUID
	Provider     string
	EventType    string
	RawPayload   []byte // stored verbatim for replay and debugging
	DedupKey     string
	Processed    bool
	ErrorMessage *string
	CreatedAt    time.Time
}

// NewEvent records an inbound delivery before any verification or parsing,
// so failed deliveries are still auditable.
func NewEvent(provider string, rawPayload []byte) *Event {
	return &Event{
		ID:         uuid.New(),
		Provider:   provider,
		RawPayload: rawPayload,
		DedupKey:   DedupKey(provider, rawPayload),
		CreatedAt:  time.Now(),
	}
}

// DedupKey derives a provider-agnostic idempotency key from the raw delivery
// bytes. Provider redeliveries resend the identical payload, so hashing the
// body catches them before any parsing happens.
func DedupKey(provider string, rawPayload []byte) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{':'})
	h.Write(rawPayload)
	return hex.EncodeToString(h.Sum(nil))
}

// MarkProcessed flags the event as applied to the ledger.
func (e *Event) MarkProcessed(eventType string) {
	e.EventType = eventType
	e.Processed = true
	e.ErrorMessage = nil
}

// MarkError records a processing failure. The event stays unprocessed and
// eligible for manual reprocessing.
func (e *Event) MarkError(msg string) {
	e.Processed = false
	e.ErrorMessage = &msg
}
