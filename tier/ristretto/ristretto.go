// Package ristretto adapts dgraph-io/ristretto as a local tier.
//
// Ristretto is cost-bounded with TinyLFU admission rather than strict LRU,
// and Set is asynchronous, so eviction is probabilistic. Use it when raw
// throughput matters more than deterministic bounds; use tier/local when the
// entry-count bound and stale-serving must hold exactly.
package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/tiercache/tier"
)

type Tier struct {
	c *rc.Cache
}

var _ tier.Tier = (*Tier)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

func New(cfg Config) (*Tier, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Tier{c: c}, nil
}

func (t *Tier) Get(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	v, ok := t.c.Get(key)
	if !ok {
		return nil, 0, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// drop unexpected entry shape
		t.c.Del(key)
		return nil, 0, false, nil
	}
	var remaining time.Duration
	if d, ok := t.c.GetTTL(key); ok {
		remaining = d
	}
	return b, remaining, true, nil
}

func (t *Tier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	t.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

func (t *Tier) Del(_ context.Context, key string) error {
	t.c.Del(key)
	return nil
}

func (t *Tier) Clear(context.Context) error {
	t.c.Clear()
	return nil
}

func (t *Tier) Contains(_ context.Context, key string) (bool, error) {
	_, ok := t.c.Get(key)
	return ok, nil
}

func (t *Tier) Increment(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, tier.ErrIncrementUnsupported
}

func (t *Tier) Stats() tier.Stats {
	m := t.c.Metrics
	if m == nil {
		return tier.Stats{}
	}
	return tier.Stats{
		Hits:      m.Hits(),
		Misses:    m.Misses(),
		Evictions: m.KeysEvicted(),
	}
}

func (t *Tier) Close(context.Context) error {
	t.c.Wait()
	t.c.Close()
	return nil
}
