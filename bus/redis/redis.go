// Package redis implements the invalidation bus on Redis pub/sub with a
// msgpack envelope. Redis pub/sub is fire-and-forget, which matches the bus
// contract: no replay, no durability, at-most-once to currently connected
// subscribers.
package redis

import (
	"context"
	"errors"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/tiercache/bus"
)

const defaultChannel = "tiercache:invalidations"

type Bus struct {
	rdb     goredis.UniversalClient
	channel string

	mu   sync.Mutex
	subs []*subscription

	closeClient bool
}

var _ bus.Bus = (*Bus)(nil)

type subscription struct {
	ps   *goredis.PubSub
	done chan struct{}
}

type Config struct {
	Client goredis.UniversalClient

	// Channel is the pub/sub channel name. "" => "tiercache:invalidations".
	Channel string

	// CloseClient releases the client on Close. Set true only if this bus
	// exclusively owns the client.
	CloseClient bool
}

func New(cfg Config) (*Bus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis bus: nil client")
	}
	ch := cfg.Channel
	if ch == "" {
		ch = defaultChannel
	}
	return &Bus{rdb: cfg.Client, channel: ch, closeClient: cfg.CloseClient}, nil
}

func (b *Bus) Publish(ctx context.Context, ev bus.Event) error {
	payload, err := msgpack.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Subscribe starts a delivery goroutine that decodes and dispatches events
// until the returned cancel runs or the bus closes. Undecodable payloads are
// dropped; a foreign writer on the channel must not take the subscriber down.
func (b *Bus) Subscribe(ctx context.Context, h bus.Handler) (func(), error) {
	ps := b.rdb.Subscribe(ctx, b.channel)
	// force the SUBSCRIBE round-trip so a dead backend fails here, not later
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &subscription{ps: ps, done: make(chan struct{})}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		defer close(sub.done)
		for msg := range ps.Channel() {
			var ev bus.Event
			if err := msgpack.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			h(ev)
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = ps.Close()
			<-sub.done
		})
	}
	return cancel, nil
}

func (b *Bus) Close(context.Context) error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.ps.Close()
		<-s.done
	}
	if b.closeClient {
		if err := b.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
