// Package local implements the lease contract in-process. Meant for
// single-instance deployments and tests; use lock/redsync across a fleet.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/tiercache/lock"
)

type lease struct {
	token    uint64
	deadline time.Time
}

type Locker struct {
	mu     sync.Mutex
	leases map[string]lease
	next   uint64
}

var _ lock.Locker = (*Locker)(nil)

func New() *Locker {
	return &Locker{leases: make(map[string]lease)}
}

func (l *Locker) Acquire(_ context.Context, key string, ttl time.Duration) (lock.Handle, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[key]; ok && cur.deadline.After(now) {
		return nil, lock.ErrNotAcquired
	}
	l.next++
	l.leases[key] = lease{token: l.next, deadline: now.Add(ttl)}
	return &handle{l: l, key: key, token: l.next}, nil
}

func (l *Locker) Close(context.Context) error { return nil }

type handle struct {
	l     *Locker
	key   string
	token uint64
}

// Release frees the lease only if this handle still owns it; a lease that
// expired and was re-acquired by someone else is untouched.
func (h *handle) Release(context.Context) error {
	h.l.mu.Lock()
	if cur, ok := h.l.leases[h.key]; ok && cur.token == h.token {
		delete(h.l.leases, h.key)
	}
	h.l.mu.Unlock()
	return nil
}
