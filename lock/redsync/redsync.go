// Package redsync implements the lease contract with the Redlock algorithm
// from go-redsync/redsync/v4. Leases survive process crashes only until their
// expiry, which is exactly the progress guarantee the stampede guard needs.
package redsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	rs "github.com/go-redsync/redsync/v4"
	rsredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiercache/lock"
)

type Locker struct {
	rs     *rs.Redsync
	prefix string
}

var _ lock.Locker = (*Locker)(nil)

type Config struct {
	Client goredis.UniversalClient

	// Prefix namespaces lock keys in Redis. "" => "tiercache-lock".
	Prefix string
}

func New(cfg Config) (*Locker, error) {
	if cfg.Client == nil {
		return nil, errors.New("redsync locker: nil client")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tiercache-lock"
	}
	return &Locker{
		rs:     rs.New(rsredis.NewPool(cfg.Client)),
		prefix: prefix,
	}, nil
}

// Acquire makes exactly one attempt (WithTries(1)); retry policy belongs to
// the caller. Contention maps to lock.ErrNotAcquired, transport errors pass
// through.
func (l *Locker) Acquire(ctx context.Context, key string, lease time.Duration) (lock.Handle, error) {
	m := l.rs.NewMutex(
		l.prefix+":"+key,
		rs.WithExpiry(lease),
		rs.WithTries(1),
	)
	if err := m.TryLockContext(ctx); err != nil {
		var taken *rs.ErrTaken
		if errors.Is(err, rs.ErrFailed) || errors.As(err, &taken) {
			return nil, lock.ErrNotAcquired
		}
		return nil, fmt.Errorf("redsync locker: acquire %q: %w", key, err)
	}
	return &handle{m: m}, nil
}

func (l *Locker) Close(context.Context) error { return nil }

type handle struct {
	m *rs.Mutex
}

// Release unlocks the mutex. A lease that already expired reports success:
// the lock is gone either way and waiters have progressed.
func (h *handle) Release(ctx context.Context) error {
	if _, err := h.m.UnlockContext(ctx); err != nil {
		var mismatch *rs.ErrTaken
		if errors.As(err, &mismatch) || errors.Is(err, rs.ErrLockAlreadyExpired) {
			return nil
		}
		return err
	}
	return nil
}
