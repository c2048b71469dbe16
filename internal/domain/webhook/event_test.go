package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupKey_Deterministic(t *testing.T) {
	body := []byte(`{"event_id":"evt_1","status":"paid"}`)

	k1 := DedupKey("cardgate", body)
	k2 := DedupKey("cardgate", body)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64) // hex sha256
}

func TestDedupKey_VariesByProviderAndBody(t *testing.T) {
	body := []byte(`{"event_id":"evt_1"}`)

	assert.NotEqual(t, DedupKey("cardgate", body), DedupKey("lunapay", body))
	assert.NotEqual(t, DedupKey("cardgate", body), DedupKey("cardgate", []byte(`{"event_id":"evt_2"}`)))
}

func TestNewEvent(t *testing.T) {
	body := []byte(`<xml><result_code>SUCCESS</result_code></xml>`)
	e := NewEvent("lunapay", body)

	assert.Equal(t, "lunapay", e.Provider)
	assert.Equal(t, body, e.RawPayload)
	assert.Equal(t, DedupKey("lunapay", body), e.DedupKey)
	assert.False(t, e.Processed)
	assert.Nil(t, e.ErrorMessage)
}

func TestEvent_MarkProcessedClearsError(t *testing.T) {
	e := NewEvent("cardgate", []byte(`{}`))
	e.MarkError("parse failed")
	require.NotNil(t, e.ErrorMessage)

	e.MarkProcessed("payment.completed")
	assert.True(t, e.Processed)
	assert.Equal(t, "payment.completed", e.EventType)
	assert.Nil(t, e.ErrorMessage)
}
