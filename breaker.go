package tiercache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/unkn0wn-root/tiercache/tier"
)

// CircuitState mirrors the breaker lifecycle for hooks and logs.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

func (c *BreakerConfig) validate() error {
	if c.FailureRate < 0 || c.FailureRate > 1 {
		return &ConfigError{Reason: fmt.Sprintf("breaker failure rate %v outside (0, 1]", c.FailureRate)}
	}
	return nil
}

// errSlowCall marks a call that succeeded but exceeded SlowCallThreshold.
// It exists only so the breaker counts the call as failed; execute strips it
// before the result reaches the engine.
var errSlowCall = errors.New("slow call")

// breakerTier wraps another tier behind a circuit breaker. While open, every
// call fails immediately with ErrCircuitOpen, sparing the tier's timeout and
// giving it room to recover. The engine's outage handling (fallback miss,
// degraded write, stale serve) applies unchanged, just faster.
type breakerTier struct {
	inner tier.Tier
	cb    *gobreaker.CircuitBreaker
	slow  time.Duration
}

func newBreakerTier(inner tier.Tier, cfg BreakerConfig, hooks Hooks) *breakerTier {
	name := coalesce(cfg.Name, "shared-tier")
	minSamples := coalesce(cfg.MinSamples, 10)
	rate := cfg.FailureRate
	if rate == 0 {
		rate = 0.5
	}

	bt := &breakerTier{inner: inner, slow: cfg.SlowCallThreshold}
	bt.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: coalesce(cfg.HalfOpenProbes, 1),
		Interval:    coalesce(cfg.Window, 30*time.Second),
		Timeout:     coalesce(cfg.OpenWait, 30*time.Second),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minSamples {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= rate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			hooks.BreakerStateChange(name, fromGobreaker(from), fromGobreaker(to))
		},
	})
	return bt
}

func fromGobreaker(s gobreaker.State) CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// execute runs fn through the breaker, classifying slow successes as failures
// and translating breaker rejections into ErrCircuitOpen.
func (b *breakerTier) execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(func() (any, error) {
		start := time.Now()
		v, err := fn()
		if err == nil && b.slow > 0 && time.Since(start) >= b.slow {
			return v, errSlowCall
		}
		return v, err
	})
	if errors.Is(err, errSlowCall) {
		return v, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, tier.ErrUnavailable)
	}
	return v, err
}

type getResult struct {
	value     []byte
	remaining time.Duration
	ok        bool
}

func (b *breakerTier) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	v, err := b.execute(func() (any, error) {
		value, remaining, ok, err := b.inner.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return getResult{value, remaining, ok}, nil
	})
	if err != nil {
		return nil, 0, false, err
	}
	r := v.(getResult)
	return r.value, r.remaining, r.ok, nil
}

func (b *breakerTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Set(ctx, key, value, ttl)
	})
	return err
}

func (b *breakerTier) Del(ctx context.Context, key string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Del(ctx, key)
	})
	return err
}

func (b *breakerTier) Clear(ctx context.Context) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Clear(ctx)
	})
	return err
}

func (b *breakerTier) Contains(ctx context.Context, key string) (bool, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.Contains(ctx, key)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (b *breakerTier) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.Increment(ctx, key, delta, ttl)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// DelPrefix keeps prefix deletion available through the breaker when the
// wrapped tier supports it.
func (b *breakerTier) DelPrefix(ctx context.Context, prefix string) error {
	pd, ok := b.inner.(tier.PrefixDeleter)
	if !ok {
		return b.Clear(ctx)
	}
	_, err := b.execute(func() (any, error) {
		return nil, pd.DelPrefix(ctx, prefix)
	})
	return err
}

func (b *breakerTier) Stats() tier.Stats { return b.inner.Stats() }

func (b *breakerTier) Close(ctx context.Context) error { return b.inner.Close(ctx) }

var (
	_ tier.Tier          = (*breakerTier)(nil)
	_ tier.PrefixDeleter = (*breakerTier)(nil)
)
