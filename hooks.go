package tiercache

import "github.com/unkn0wn-root/tiercache/bus"

// Hooks are lightweight callbacks for high-signal events. Implementations
// MUST be cheap and non-blocking; the engine calls them on hot paths. Wrap
// with hooks/async to decouple slow consumers.
type Hooks interface {
	// A write landed locally but the shared tier rejected or missed it.
	DegradedWrite(namespace, key string, cause error)

	// The shared tier was down on a read path and the engine reported a
	// miss (strict-miss policy, or no stale copy existed).
	FallbackMiss(namespace, key string, cause error)

	// A stale local value was served during a shared-tier outage
	// (namespace opted in via ServeStaleOnOutage).
	ServedStale(namespace, key string)

	// A corrupt or untransformable entry was evicted on read. reason is one
	// of "corrupt", "transform", "shared-corrupt".
	SelfHeal(namespace, key, reason string)

	// An invalidation event could not be published. cause == nil means the
	// publish queue was full and the event was dropped.
	PublishFailed(ev bus.Event, cause error)

	// The circuit breaker guarding the shared tier changed state.
	BreakerStateChange(name string, from, to CircuitState)

	// A getOrCompute call gave up waiting for the lock holder.
	StampedeTimeout(namespace, key string)
}

// NopHooks is the default no-op.
type NopHooks struct{}

var _ Hooks = NopHooks{}

func (NopHooks) DegradedWrite(string, string, error)                 {}
func (NopHooks) FallbackMiss(string, string, error)                  {}
func (NopHooks) ServedStale(string, string)                          {}
func (NopHooks) SelfHeal(string, string, string)                     {}
func (NopHooks) PublishFailed(bus.Event, error)                      {}
func (NopHooks) BreakerStateChange(string, CircuitState, CircuitState) {}
func (NopHooks) StampedeTimeout(string, string)                      {}
