package tiercache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/unkn0wn-root/tiercache/bus"
	"github.com/unkn0wn-root/tiercache/lock"
	"github.com/unkn0wn-root/tiercache/metrics"
	"github.com/unkn0wn-root/tiercache/tier"
)

// LoaderFunc computes the value for a missing key. It runs under the
// engine's computation timeout; implementations must respect ctx.
type LoaderFunc func(ctx context.Context) ([]byte, error)

// Cache is the engine contract. Values are opaque bytes; pair with Typed and
// a codec.Codec for struct values. All implementations are safe for
// arbitrary concurrent use, including concurrent calls for the same key.
type Cache interface {
	Enabled() bool
	Close(ctx context.Context) error

	// Get returns the cached value. A shared-tier outage is absorbed into a
	// miss (or an opt-in stale serve), never an error; only local-tier
	// failures (configuration bugs) surface here.
	Get(ctx context.Context, namespace, key string) (value []byte, ok bool, err error)

	// GetOrCompute returns the cached value or runs loader to produce it.
	// With a stampede guard in the chain, concurrent callers for one key run
	// the loader once. Storage failures after a successful load are absorbed
	// (the computed value is still returned); loader failures propagate.
	GetOrCompute(ctx context.Context, namespace, key string, loader LoaderFunc, ttl time.Duration) ([]byte, error)

	// Set writes through both tiers. ttl == 0 uses the namespace default;
	// ttl < 0 stores without expiry. A *DegradedWriteError return means the
	// write stands locally but missed the shared tier.
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error

	// Delete removes the key from both tiers and announces the eviction.
	// Removing an absent key is not an error.
	Delete(ctx context.Context, namespace, key string) error

	// Clear removes every key in the namespace from both tiers and
	// announces a namespace-wide eviction.
	Clear(ctx context.Context, namespace string) error

	// Contains reports whether a live entry exists in either tier.
	Contains(ctx context.Context, namespace, key string) (bool, error)

	// Increment / Decrement atomically adjust a shared-tier counter.
	// Unsupported without a shared tier (ErrIncrementUnsupported).
	Increment(ctx context.Context, namespace, key string, delta int64) (int64, error)
	Decrement(ctx context.Context, namespace, key string, delta int64) (int64, error)

	// Stats snapshots the namespace counters; ResetStats zeroes them
	// (namespace == "" resets all).
	Stats(namespace string) Statistics
	ResetStats(namespace string)
}

// StampedeConfig tunes the lock-serialized computation path.
type StampedeConfig struct {
	// LockWait bounds how long a non-holder waits for the holder's value
	// before giving up. 0 => 2s.
	LockWait time.Duration

	// LockLease is the lease on the computation lock. Must comfortably
	// exceed the expected loader time; expiry is what guarantees progress
	// when a holder crashes. 0 => 10s.
	LockLease time.Duration

	// ComputeTimeout caps one loader invocation. 0 => 5s.
	ComputeTimeout time.Duration

	// PollInterval is the non-holder's double-check cadence. 0 => 50ms.
	PollInterval time.Duration

	// FailOnContention makes non-holders return ErrStampedeTimeout after a
	// single failed double-check instead of polling out the LockWait budget.
	FailOnContention bool
}

// BreakerConfig tunes the circuit breaker guarding the shared tier.
type BreakerConfig struct {
	// Name identifies the breaker in hooks and logs. "" => "shared-tier".
	Name string

	// Window is the rolling window over which failure counts accumulate
	// while closed. 0 => 30s.
	Window time.Duration

	// MinSamples is the minimum number of calls in the window before the
	// failure rate is evaluated. 0 => 10.
	MinSamples uint32

	// FailureRate in (0, 1]; at or above it the breaker opens. 0 => 0.5.
	// Slow calls (see SlowCallThreshold) count as failures.
	FailureRate float64

	// SlowCallThreshold marks calls at or above this duration as failures
	// even when they succeed. 0 disables slow-call tracking.
	SlowCallThreshold time.Duration

	// OpenWait is how long the breaker stays open before probing. 0 => 30s.
	OpenWait time.Duration

	// HalfOpenProbes bounds concurrent probe calls while half-open; excess
	// calls are rejected as if open. 0 => 1.
	HalfOpenProbes uint32
}

// Options configure the engine. Only Local is required.
type Options struct {
	// Local is the in-process tier (L1). Required. Closed by Close.
	Local tier.Tier

	// Shared is the fleet-shared tier (L2). Optional; without it the cache
	// is instance-local and counters are unsupported. Closed by Close.
	Shared tier.Tier

	// Namespaces declares per-namespace policy. Undeclared namespaces get
	// engine defaults.
	Namespaces []Namespace

	DefaultTTL      time.Duration // 0 => 10m
	SharedOpTimeout time.Duration // deadline safety net on L2 calls; 0 => 500ms

	// FailFastWrites turns a shared-tier write failure into a hard error
	// instead of a degraded write.
	FailFastWrites bool

	// InstanceID identifies this instance on the invalidation bus (self-echo
	// guard). "" => random.
	InstanceID string

	// Bus propagates evictions across instances. nil => bus.Nop. Not closed
	// by Close when shared with other components; see bus implementations.
	Bus bus.Bus

	// Locker enables the stampede guard. nil => guard disabled; GetOrCompute
	// still works, unserialized. The locker is not closed by Close.
	Locker   lock.Locker
	Stampede StampedeConfig

	// Breaker wraps the shared tier in a circuit breaker. nil => disabled.
	Breaker *BreakerConfig

	// Metrics receives one record per operation. nil => no recording.
	Metrics metrics.Sink

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	// StatsWindow resets namespace statistics on this cadence. 0 => only
	// manual ResetStats.
	StatsWindow time.Duration

	// PublishQueue bounds the async invalidation publish queue. 0 => 1024.
	PublishQueue int

	// Disabled turns every operation into a no-op miss.
	Disabled bool
}

// New validates the configuration, assembles the decorator chain and starts
// the engine's background workers (invalidation publisher, bus subscription,
// stats window). All configuration errors surface here, never at runtime.
func New(opts Options) (Cache, error) {
	e, err := newEngine(opts)
	if err != nil {
		return nil, err
	}

	var c Cache = e
	if opts.Locker != nil {
		c = newStampedeGuard(c, e, opts.Locker, opts.Stampede)
	}
	if opts.Metrics != nil {
		c = newRecorder(c, opts.Metrics, e.log)
	}
	return c, nil
}

func randomInstanceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// timestamp fallback; uniqueness only guards self-echo
		return hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return hex.EncodeToString(b[:])
}
