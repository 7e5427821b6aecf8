// Package lock defines the lease contract the stampede guard depends on.
//
// The underlying technology is swappable: redsync (package lock/redsync) for
// multi-instance deployments, an in-process table (package lock/local) for
// single-instance use and tests. All implementations hand out leases: a
// holder that crashes loses the lease after its expiry, so waiters always
// make progress.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired reports that the lease is held by someone else. It is an
// expected contention outcome, not a failure.
var ErrNotAcquired = errors.New("lock: not acquired")

// Handle is an acquired lease. Release is idempotent and releases only the
// caller's own acquisition (a lease that already expired and was re-acquired
// elsewhere is left alone).
type Handle interface {
	Release(ctx context.Context) error
}

// Locker hands out keyed leases.
type Locker interface {
	// Acquire makes a single attempt to take the lease for key. It returns
	// ErrNotAcquired when the lease is held, and respects ctx for transport
	// deadlines. Waiting/retrying is the caller's policy, not the locker's.
	Acquire(ctx context.Context, key string, lease time.Duration) (Handle, error)

	Close(ctx context.Context) error
}
