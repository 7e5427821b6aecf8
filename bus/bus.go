// Package bus defines the invalidation channel that keeps each instance's
// local tier coherent with writes made anywhere in the fleet.
//
// Delivery is best-effort and asynchronous relative to the triggering write;
// the consistency this yields on local tiers is eventual: between a remote
// write and the local eviction there is a window where a stale local value
// can still be served. That window is an accepted trade-off of the design,
// bounded by transport latency plus the local TTL.
package bus

import (
	"context"
	"time"
)

// Op is the mutation that triggered an event.
type Op uint8

const (
	OpEvict Op = iota + 1
	OpPut
)

func (o Op) String() string {
	switch o {
	case OpEvict:
		return "evict"
	case OpPut:
		return "put"
	default:
		return "unknown"
	}
}

// Event describes one mutating cache operation. Key == "" means the whole
// namespace. Applying an event twice has the same effect as once: consumers
// only evict, and evicting an absent key is a no-op.
type Event struct {
	Namespace string    `msgpack:"ns"`
	Key       string    `msgpack:"k"`
	Op        Op        `msgpack:"op"`
	Origin    string    `msgpack:"o"` // instance that performed the write
	At        time.Time `msgpack:"at"`
}

// Handler consumes one event. Must be cheap; the bus may call it from a
// single delivery goroutine.
type Handler func(Event)

// Bus is the publish/subscribe transport contract.
type Bus interface {
	// Publish broadcasts the event best-effort. A publish failure must not
	// fail the cache operation that triggered it (which already completed).
	Publish(ctx context.Context, ev Event) error

	// Subscribe registers a handler for all events on the channel and
	// returns a function that cancels the subscription.
	Subscribe(ctx context.Context, h Handler) (cancel func(), err error)

	Close(ctx context.Context) error
}

// Nop is a Bus for single-instance deployments: publishes vanish,
// subscriptions never fire.
type Nop struct{}

var _ Bus = Nop{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Subscribe(context.Context, Handler) (func(), error) {
	return func() {}, nil
}
func (Nop) Close(context.Context) error { return nil }
