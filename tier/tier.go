// Package tier defines the storage abstraction used by tiercache.
//
// A Tier is a minimal byte store with per-entry TTLs. Implementations MUST be
// byte-for-byte transparent: Get must return exactly the same []byte that was
// previously passed to Set for a key (no prepended/appended metadata, no
// re-encoding, no mutation). Value framing and transforms are owned by the
// engine, not the tier.
//
// Two roles exist:
//   - local tiers are in-process and must not fail transiently; an error from
//     a local tier is treated as a programming/configuration error upstream.
//   - shared tiers are networked; any call may fail and such failures MUST be
//     reported as ErrUnavailable (wrapped is fine), never as a silent miss.
package tier

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable reports that a networked tier could not serve the call
	// (connection refused, timeout, partition, backend down). The engine
	// converts it into fallback behavior; it is never a hard failure on reads.
	ErrUnavailable = errors.New("tier: unavailable")

	// ErrIncrementUnsupported is returned by tiers that cannot perform atomic
	// numeric operations (local tiers). Callers must route counters to the
	// shared tier instead of approximating with read-modify-write.
	ErrIncrementUnsupported = errors.New("tier: increment not supported")
)

// Stats is a point-in-time counter snapshot for one tier.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
	Entries   int64
	MaxSize   int64
}

// Tier is a minimal byte store with TTLs. Must be safe for concurrent use.
type Tier interface {
	// Get returns (value, remaining TTL, true, nil) on hit and
	// (nil, 0, false, nil) on miss. remaining == 0 means "unknown or no
	// expiry"; tiers that track per-entry deadlines should report the
	// remaining lifetime so upper layers can propagate it.
	// Entries past their deadline are a miss, never a hit.
	Get(ctx context.Context, key string) (value []byte, remaining time.Duration, ok bool, err error)

	// Set stores value with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes a key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// Clear removes every entry in the tier.
	Clear(ctx context.Context) error

	// Contains reports whether a live (non-expired) entry exists for key.
	Contains(ctx context.Context, key string) (bool, error)

	// Increment atomically adds delta to the integer stored at key and
	// returns the new value. A missing key counts from zero and starts its
	// TTL on this first write. delta may be negative.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Stats returns a best-effort counter snapshot. Never blocks operations.
	Stats() Stats

	// Close releases resources.
	Close(ctx context.Context) error
}

// PrefixDeleter is implemented by tiers that can remove all keys sharing a
// prefix. The engine uses it for namespace-scoped Clear; tiers without it fall
// back to a full Clear.
type PrefixDeleter interface {
	DelPrefix(ctx context.Context, prefix string) error
}

// StaleReader is implemented by tiers that retain expired entries for a
// bounded window (until their next sweep) and can hand them back on request.
// The engine consults it only when a namespace explicitly opts in to serving
// stale values during a shared-tier outage.
type StaleReader interface {
	// GetStale returns the entry for key even if its TTL has passed.
	GetStale(ctx context.Context, key string) ([]byte, bool, error)
}
