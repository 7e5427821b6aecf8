package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tiercache/bus"
)

func newTestBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b, err := New(Config{Client: client})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b, mr
}

func waitEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return bus.Event{}
	}
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	got := make(chan bus.Event, 1)
	cancel, err := b.Subscribe(ctx, func(ev bus.Event) { got <- ev })
	require.NoError(t, err)
	defer cancel()

	sent := bus.Event{
		Namespace: "user",
		Key:       "u1",
		Op:        bus.OpEvict,
		Origin:    "instance-a",
		At:        time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, b.Publish(ctx, sent))

	ev := waitEvent(t, got)
	assert.Equal(t, sent.Namespace, ev.Namespace)
	assert.Equal(t, sent.Key, ev.Key)
	assert.Equal(t, sent.Op, ev.Op)
	assert.Equal(t, sent.Origin, ev.Origin)
	assert.WithinDuration(t, sent.At, ev.At, time.Second)
}

func TestAllSubscribersReceive(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	a := make(chan bus.Event, 1)
	bb := make(chan bus.Event, 1)
	cancelA, err := b.Subscribe(ctx, func(ev bus.Event) { a <- ev })
	require.NoError(t, err)
	defer cancelA()
	cancelB, err := b.Subscribe(ctx, func(ev bus.Event) { bb <- ev })
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, b.Publish(ctx, bus.Event{Namespace: "ns", Key: "k", Op: bus.OpPut}))

	assert.Equal(t, "k", waitEvent(t, a).Key)
	assert.Equal(t, "k", waitEvent(t, bb).Key)
}

func TestUndecodablePayloadIsDropped(t *testing.T) {
	ctx := context.Background()
	b, mr := newTestBus(t)

	got := make(chan bus.Event, 1)
	cancel, err := b.Subscribe(ctx, func(ev bus.Event) { got <- ev })
	require.NoError(t, err)
	defer cancel()

	// a foreign writer on the channel
	mr.Publish(defaultChannel, "not msgpack")

	// the subscriber survives and still sees the next real event
	require.NoError(t, b.Publish(ctx, bus.Event{Namespace: "ns", Key: "live", Op: bus.OpEvict}))
	assert.Equal(t, "live", waitEvent(t, got).Key)
}

func TestCancelStopsDelivery(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	got := make(chan bus.Event, 4)
	cancel, err := b.Subscribe(ctx, func(ev bus.Event) { got <- ev })
	require.NoError(t, err)

	cancel()
	cancel() // idempotent

	require.NoError(t, b.Publish(ctx, bus.Event{Namespace: "ns", Key: "k", Op: bus.OpEvict}))
	select {
	case ev := <-got:
		t.Fatalf("delivery after cancel: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeFailsOnDeadBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b, err := New(Config{Client: client})
	require.NoError(t, err)

	mr.Close()
	_, err = b.Subscribe(context.Background(), func(bus.Event) {})
	assert.Error(t, err)
}

func TestCustomChannel(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b, err := New(Config{Client: client, Channel: "custom:events"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(ctx) })

	got := make(chan bus.Event, 1)
	cancel, err := b.Subscribe(ctx, func(ev bus.Event) { got <- ev })
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish(ctx, bus.Event{Namespace: "ns", Key: "k", Op: bus.OpPut}))
	assert.Equal(t, "k", waitEvent(t, got).Key)
}
