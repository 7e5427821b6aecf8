// Package bigcache adapts allegro/bigcache as a local tier.
//
// BigCache has a single global life window instead of per-entry TTLs; the ttl
// argument to Set is ignored. Suited to workloads with one uniform lifetime
// and very large entry counts (its storage is GC-transparent).
package bigcache

import (
	"context"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/tiercache/tier"
)

type Tier struct {
	c *bc.BigCache
}

var _ tier.Tier = (*Tier)(nil)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Tier, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Tier{c: c}, nil
}

func (t *Tier) Get(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	b, err := t.c.Get(key)
	if err == bc.ErrEntryNotFound {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	return b, 0, true, nil
}

func (t *Tier) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	// per-entry TTL unsupported; global LifeWindow applies
	return t.c.Set(key, value)
}

func (t *Tier) Del(_ context.Context, key string) error {
	err := t.c.Delete(key)
	if err == bc.ErrEntryNotFound {
		return nil
	}
	return err
}

func (t *Tier) Clear(context.Context) error { return t.c.Reset() }

func (t *Tier) Contains(_ context.Context, key string) (bool, error) {
	_, err := t.c.Get(key)
	if err == bc.ErrEntryNotFound {
		return false, nil
	}
	return err == nil, err
}

func (t *Tier) Increment(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, tier.ErrIncrementUnsupported
}

func (t *Tier) Stats() tier.Stats {
	s := t.c.Stats()
	return tier.Stats{
		Hits:    uint64(s.Hits),
		Misses:  uint64(s.Misses),
		Entries: int64(t.c.Len()),
	}
}

func (t *Tier) Close(context.Context) error { return t.c.Close() }
