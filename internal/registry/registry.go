package registry

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bloopai/model-router/internal/catalog"
	"github.com/bloopai/model-router/internal/provider"
)

var ErrAlreadyRegistered = errors.New("provider already registered")

// Registry holds the configured provider adapters in registration
// order and tracks per-provider availability through circuit
// breakers. Availability is a registry-level fact: routing takes a
// snapshot once per request and never re-checks mid-request.
type Registry struct {
	order     []string
	providers map[string]provider.Provider
	breakers  map[string]*gobreaker.CircuitBreaker
}

func New() *Registry {
	return &Registry{
		providers: make(map[string]provider.Provider),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (r *Registry) Register(p provider.Provider) error {
	name := p.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}
	if _, exists := r.providers[name]; exists {
		return ErrAlreadyRegistered
	}

	r.order = append(r.order, name)
	r.providers[name] = p
	r.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return nil
}

func (r *Registry) Get(name string) (provider.Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Available returns the provider names whose breaker is not open, in
// registration order.
func (r *Registry) Available() []string {
	names := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if r.breakers[name].State() == gobreaker.StateOpen {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (r *Registry) Count() int {
	return len(r.order)
}

// ReportOutcome feeds an attempt result into the provider's breaker
// so repeated failures take it out of the available set for later
// requests.
func (r *Registry) ReportOutcome(name string, attemptErr error) {
	cb, ok := r.breakers[name]
	if !ok {
		return
	}
	_, _ = cb.Execute(func() (interface{}, error) {
		return nil, attemptErr
	})
}

// Catalog aggregates the registered adapters' model entries in
// registration order.
func (r *Registry) Catalog() *catalog.Catalog {
	var entries []catalog.ModelInfo
	for _, name := range r.order {
		entries = append(entries, r.providers[name].Catalog()...)
	}
	return catalog.New(entries)
}
