package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/felipepmaragno/chat-gateway/internal/circuitbreaker"
	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/metrics"
)

// Dispatcher is the only place that chooses an adapter. Adding a provider
// means registering one more Adapter.
type Dispatcher struct {
	adapters map[domain.Provider]Adapter
	breakers *circuitbreaker.Manager
}

func NewDispatcher(breakers *circuitbreaker.Manager, adapters ...Adapter) *Dispatcher {
	d := &Dispatcher{
		adapters: make(map[domain.Provider]Adapter, len(adapters)),
		breakers: breakers,
	}
	for _, a := range adapters {
		d.adapters[a.Provider()] = a
	}
	return d
}

// Supported reports whether an adapter exists for p, configured or not.
func (d *Dispatcher) Supported(p domain.Provider) bool {
	_, ok := d.adapters[p]
	return ok
}

// Configured reports whether p has a credential. Models of unconfigured
// providers are hidden from listings and skipped during resolution.
func (d *Dispatcher) Configured(p domain.Provider) bool {
	a, ok := d.adapters[p]
	return ok && a.Configured()
}

// ConfiguredProviders lists providers with credentials, sorted.
func (d *Dispatcher) ConfiguredProviders() []string {
	out := make([]string, 0, len(d.adapters))
	for p, a := range d.adapters {
		if a.Configured() {
			out = append(out, string(p))
		}
	}
	sort.Strings(out)
	return out
}

// Dispatch sends req to the adapter for req.Model.Provider and returns the
// raw stream together with its wire format.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (io.ReadCloser, domain.WireFormat, error) {
	p := req.Model.Provider
	a, ok := d.adapters[p]
	if !ok || !a.Configured() {
		return nil, "", &domain.NotConfiguredError{Provider: p}
	}

	if d.breakers != nil {
		if err := d.breakers.Allow(ctx, p); err != nil {
			metrics.RecordProviderError(string(p), "circuit_open")
			return nil, "", fmt.Errorf("%s: %w", p, err)
		}
	}

	body, err := a.Send(ctx, req)
	if err != nil {
		d.recordFailure(ctx, p, err)
		return nil, "", err
	}

	if d.breakers != nil {
		d.breakers.Success(ctx, p)
	}
	return body, a.Format(), nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, p domain.Provider, err error) {
	var pe *domain.ProviderError
	switch {
	case errors.As(err, &pe):
		metrics.RecordProviderError(string(p), http.StatusText(pe.StatusCode))
		if pe.StatusCode < 500 {
			return
		}
	case ctx.Err() != nil:
		// The client left; the provider is not at fault.
		return
	default:
		metrics.RecordProviderError(string(p), "transport")
	}

	if d.breakers != nil {
		d.breakers.Failure(ctx, p)
	}
}
