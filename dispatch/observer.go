package dispatch

import (
	"context"
	"time"
)

// CallObservation summarizes one finished call.
type CallObservation struct {
	ID        any
	Tool      string
	Category  string
	Transport string
	// Kind is the error kind, empty on success.
	Kind string
	// Phase is the last phase reached before responding or failing.
	Phase    Phase
	Duration time.Duration
}

// CallObserver receives one observation per finished call.
type CallObserver interface {
	ObserveCall(observation CallObservation)
}

// CallObserverFunc adapts a function to CallObserver.
type CallObserverFunc func(observation CallObservation)

// ObserveCall implements CallObserver.
func (f CallObserverFunc) ObserveCall(observation CallObservation) {
	f(observation)
}

type transportKey struct{}

// WithTransport labels calls dispatched with ctx as arriving over transport.
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey{}, transport)
}

// TransportFrom returns the transport label attached by WithTransport.
func TransportFrom(ctx context.Context) string {
	transport, _ := ctx.Value(transportKey{}).(string)
	return transport
}
