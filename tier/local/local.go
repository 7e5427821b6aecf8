// Package local implements the in-process tier: a strict LRU bounded by entry
// count with per-entry TTLs.
//
// Expiry is enforced two ways: reads treat entries past their deadline as
// absent, and a background janitor sweeps them out every SweepInterval. Reads
// deliberately do not delete expired entries; they stay in place (still
// subject to LRU pressure) until the next sweep so that namespaces which opt
// in to stale-serving can recover them during a shared-tier outage. The stale
// window is therefore bounded by the sweep interval.
package local

import (
	"container/list"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/tiercache/tier"
)

const (
	defaultMaxEntries    = 10_000
	defaultSweepInterval = time.Minute
)

type entry struct {
	key      string
	value    []byte
	deadline int64 // unix nanos; 0 => no expiry
	storedAt int64
}

func (e *entry) expired(now int64) bool {
	return e.deadline != 0 && now > e.deadline
}

// Tier is a bounded LRU byte store. The zero value is not usable; construct
// with New.
type Tier struct {
	mu    sync.RWMutex
	items map[string]*list.Element
	lru   *list.List // front = most recently used
	max   int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	expired   atomic.Uint64

	sweep     *time.Ticker
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var (
	_ tier.Tier          = (*Tier)(nil)
	_ tier.PrefixDeleter = (*Tier)(nil)
	_ tier.StaleReader   = (*Tier)(nil)
)

type Config struct {
	MaxEntries    int           // 0 => 10_000
	SweepInterval time.Duration // 0 => 1m; < 0 disables the janitor
}

func New(cfg Config) (*Tier, error) {
	if cfg.MaxEntries < 0 {
		return nil, errors.New("local: MaxEntries must be >= 0, got " + strconv.Itoa(cfg.MaxEntries))
	}
	max := cfg.MaxEntries
	if max == 0 {
		max = defaultMaxEntries
	}
	t := &Tier{
		items:  make(map[string]*list.Element),
		lru:    list.New(),
		max:    max,
		stopCh: make(chan struct{}),
	}
	interval := cfg.SweepInterval
	if interval == 0 {
		interval = defaultSweepInterval
	}
	if interval > 0 {
		t.sweep = time.NewTicker(interval)
		t.wg.Add(1)
		go t.janitor()
	}
	return t, nil
}

func (t *Tier) janitor() {
	defer t.wg.Done()
	for {
		select {
		case <-t.sweep.C:
			t.deleteExpired()
		case <-t.stopCh:
			return
		}
	}
}

func (t *Tier) deleteExpired() {
	now := time.Now().UnixNano()
	t.mu.Lock()
	for el := t.lru.Back(); el != nil; {
		prev := el.Prev()
		if e := el.Value.(*entry); e.expired(now) {
			t.removeElement(el)
			t.expired.Add(1)
		}
		el = prev
	}
	t.mu.Unlock()
}

func (t *Tier) Get(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	now := time.Now().UnixNano()

	t.mu.Lock()
	el, ok := t.items[key]
	if !ok {
		t.mu.Unlock()
		t.misses.Add(1)
		return nil, 0, false, nil
	}
	e := el.Value.(*entry)
	if e.expired(now) {
		// left for the janitor; see package doc
		t.mu.Unlock()
		t.misses.Add(1)
		return nil, 0, false, nil
	}
	t.lru.MoveToFront(el)
	v := e.value
	deadline := e.deadline
	t.mu.Unlock()

	t.hits.Add(1)
	var remaining time.Duration
	if deadline != 0 {
		remaining = time.Duration(deadline - now)
	}
	return v, remaining, true, nil
}

// GetStale returns the entry even past its deadline, as long as the janitor
// has not swept it yet.
func (t *Tier) GetStale(_ context.Context, key string) ([]byte, bool, error) {
	t.mu.RLock()
	el, ok := t.items[key]
	if !ok {
		t.mu.RUnlock()
		return nil, false, nil
	}
	v := el.Value.(*entry).value
	t.mu.RUnlock()
	return v, true, nil
}

func (t *Tier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now().UnixNano()
	var deadline int64
	if ttl > 0 {
		deadline = now + ttl.Nanoseconds()
	}

	t.mu.Lock()
	if el, ok := t.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.deadline = deadline
		e.storedAt = now
		t.lru.MoveToFront(el)
		t.mu.Unlock()
		return nil
	}
	el := t.lru.PushFront(&entry{key: key, value: value, deadline: deadline, storedAt: now})
	t.items[key] = el
	for t.lru.Len() > t.max {
		t.evictOldest()
	}
	t.mu.Unlock()
	return nil
}

// evictOldest removes the LRU tail. Caller must hold t.mu.
func (t *Tier) evictOldest() {
	el := t.lru.Back()
	if el == nil {
		return
	}
	t.removeElement(el)
	t.evictions.Add(1)
}

// removeElement unlinks an element. Caller must hold t.mu.
func (t *Tier) removeElement(el *list.Element) {
	t.lru.Remove(el)
	delete(t.items, el.Value.(*entry).key)
}

func (t *Tier) Del(_ context.Context, key string) error {
	t.mu.Lock()
	if el, ok := t.items[key]; ok {
		t.removeElement(el)
	}
	t.mu.Unlock()
	return nil
}

func (t *Tier) DelPrefix(_ context.Context, prefix string) error {
	t.mu.Lock()
	for el := t.lru.Back(); el != nil; {
		prev := el.Prev()
		if strings.HasPrefix(el.Value.(*entry).key, prefix) {
			t.removeElement(el)
		}
		el = prev
	}
	t.mu.Unlock()
	return nil
}

func (t *Tier) Clear(_ context.Context) error {
	t.mu.Lock()
	t.items = make(map[string]*list.Element)
	t.lru.Init()
	t.mu.Unlock()
	return nil
}

func (t *Tier) Contains(_ context.Context, key string) (bool, error) {
	now := time.Now().UnixNano()
	t.mu.RLock()
	el, ok := t.items[key]
	live := ok && !el.Value.(*entry).expired(now)
	t.mu.RUnlock()
	return live, nil
}

// Increment is unsupported on the local tier: an in-process counter cannot be
// coherent across the fleet, and approximating it would race.
func (t *Tier) Increment(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, tier.ErrIncrementUnsupported
}

func (t *Tier) Stats() tier.Stats {
	t.mu.RLock()
	entries := int64(t.lru.Len())
	t.mu.RUnlock()
	return tier.Stats{
		Hits:      t.hits.Load(),
		Misses:    t.misses.Load(),
		Evictions: t.evictions.Load(),
		Expired:   t.expired.Load(),
		Entries:   entries,
		MaxSize:   int64(t.max),
	}
}

func (t *Tier) Close(context.Context) error {
	t.closeOnce.Do(func() {
		close(t.stopCh)
		if t.sweep != nil {
			t.sweep.Stop()
		}
		t.wg.Wait()
	})
	return nil
}

// Len reports the current number of entries, expired ones included.
func (t *Tier) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lru.Len()
}
