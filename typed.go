package tiercache

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/tiercache/codec"
)

// Typed pairs a Cache with a codec so callers work with V instead of raw
// bytes. It is a thin veneer: one namespace, one codec, no state of its own,
// so any number of Typed views can share one Cache.
type Typed[V any] struct {
	c     Cache
	ns    string
	codec codec.Codec[V]
}

// NewTyped binds a codec and namespace to an existing cache.
func NewTyped[V any](c Cache, namespace string, cd codec.Codec[V]) *Typed[V] {
	return &Typed[V]{c: c, ns: namespace, codec: cd}
}

func (t *Typed[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	b, ok, err := t.c.Get(ctx, t.ns, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := t.codec.Decode(b)
	if err != nil {
		// undecodable values are treated as absent; the entry stays cached
		// for byte-level readers
		return zero, false, fmt.Errorf("tiercache: decode %s/%s: %w", t.ns, key, err)
	}
	return v, true, nil
}

// GetOrCompute is the typed read-through: loader produces a V, the codec
// handles the bytes both ways.
func (t *Typed[V]) GetOrCompute(ctx context.Context, key string, loader func(ctx context.Context) (V, error), ttl time.Duration) (V, error) {
	var zero V
	b, err := t.c.GetOrCompute(ctx, t.ns, key, func(ctx context.Context) ([]byte, error) {
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return t.codec.Encode(v)
	}, ttl)
	if err != nil {
		return zero, err
	}
	v, err := t.codec.Decode(b)
	if err != nil {
		return zero, fmt.Errorf("tiercache: decode %s/%s: %w", t.ns, key, err)
	}
	return v, nil
}

func (t *Typed[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	b, err := t.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("tiercache: encode %s/%s: %w", t.ns, key, err)
	}
	return t.c.Set(ctx, t.ns, key, b, ttl)
}

func (t *Typed[V]) Delete(ctx context.Context, key string) error {
	return t.c.Delete(ctx, t.ns, key)
}

func (t *Typed[V]) Clear(ctx context.Context) error {
	return t.c.Clear(ctx, t.ns)
}

func (t *Typed[V]) Contains(ctx context.Context, key string) (bool, error) {
	return t.c.Contains(ctx, t.ns, key)
}

func (t *Typed[V]) Stats() Statistics { return t.c.Stats(t.ns) }
