package providers

import (
	"errors"
	"testing"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Get(t *testing.T) {
	reg := NewRegistry(NewMockProvider("cardgate"), NewMockProvider("lunapay"))

	adapter, breaker, err := reg.Get("cardgate")
	require.NoError(t, err)
	assert.Equal(t, "cardgate", adapter.Name())
	assert.NotNil(t, breaker)
}

func TestRegistry_Get_Unknown(t *testing.T) {
	reg := NewRegistry(NewMockProvider("cardgate"))

	_, _, err := reg.Get("giropay")
	assert.ErrorIs(t, err, domainErrors.ErrProviderNotFound)
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry(NewMockProvider("cardgate"), NewMockProvider("orbitwallet"))
	assert.ElementsMatch(t, []string{"cardgate", "orbitwallet"}, reg.Names())
}

func TestRegistry_StateHookFiresOnTrip(t *testing.T) {
	reg := NewRegistry(NewMockProvider("cardgate"))

	var gotName string
	var gotState gobreaker.State
	reg.OnStateChange(func(name string, state gobreaker.State) {
		gotName = name
		gotState = state
	})

	_, breaker, err := reg.Get("cardgate")
	require.NoError(t, err)

	boom := errors.New("gateway down")
	for i := 0; i < 10; i++ {
		breaker.Execute(func() (any, error) { return nil, boom })
	}

	assert.Equal(t, "cardgate", gotName)
	assert.Equal(t, gobreaker.StateOpen, gotState)
}

func TestRegistry_BreakerPerProvider(t *testing.T) {
	reg := NewRegistry(NewMockProvider("cardgate"), NewMockProvider("lunapay"))

	_, b1, err := reg.Get("cardgate")
	require.NoError(t, err)
	_, b2, err := reg.Get("lunapay")
	require.NoError(t, err)
	assert.NotSame(t, b1, b2)
}
