package providers

import (
	"fmt"
	"time"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/sony/gobreaker/v2"
)

// Registry is the static map from provider key to adapter, populated once at
// startup. Each adapter is paired with its own circuit breaker so one
// misbehaving rail cannot drag down the others.
type Registry struct {
	adapters        map[string]Adapter
	circuitBreakers map[string]*gobreaker.CircuitBreaker[any]
	stateHook       func(name string, state gobreaker.State)
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{
		adapters:        make(map[string]Adapter),
		circuitBreakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
	r.circuitBreakers[a.Name()] = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        a.Name(),
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			// Late bound so the hook can be installed after registration.
			if r.stateHook != nil {
				r.stateHook(name, to)
			}
		},
	})
}

// OnStateChange installs a callback fired whenever any breaker changes state.
// Call it during startup, before traffic flows.
func (r *Registry) OnStateChange(fn func(name string, state gobreaker.State)) {
	r.stateHook = fn
}

// Get resolves an adapter and its breaker by provider key.
func (r *Registry) Get(name string) (Adapter, *gobreaker.CircuitBreaker[any], error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown provider %q: %w", name, domainErrors.ErrProviderNotFound)
	}
	return a, r.circuitBreakers[name], nil
}

// Names returns the registered provider keys.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
