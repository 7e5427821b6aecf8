package tiercache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/tiercache/lock"
)

const (
	defaultLockWait       = 2 * time.Second
	defaultLockLease      = 10 * time.Second
	defaultComputeTimeout = 5 * time.Second
	defaultPollInterval   = 50 * time.Millisecond
)

// stampedeGuard serializes GetOrCompute per key: one caller holds the lock
// and runs the loader, the rest poll the cache for its result. Every other
// method passes straight through.
type stampedeGuard struct {
	Cache
	engine *engine
	locker lock.Locker

	wait     time.Duration
	lease    time.Duration
	loadTime time.Duration
	poll     time.Duration
	failFast bool
}

func newStampedeGuard(next Cache, e *engine, locker lock.Locker, cfg StampedeConfig) *stampedeGuard {
	return &stampedeGuard{
		Cache:    next,
		engine:   e,
		locker:   locker,
		wait:     coalesce(cfg.LockWait, defaultLockWait),
		lease:    coalesce(cfg.LockLease, defaultLockLease),
		loadTime: coalesce(cfg.ComputeTimeout, defaultComputeTimeout),
		poll:     coalesce(cfg.PollInterval, defaultPollInterval),
		failFast: cfg.FailOnContention,
	}
}

func (g *stampedeGuard) GetOrCompute(ctx context.Context, namespace, key string, loader LoaderFunc, ttl time.Duration) ([]byte, error) {
	if !g.engine.enabled {
		return g.Cache.GetOrCompute(ctx, namespace, key, loader, ttl)
	}
	pol, err := g.engine.router.policy(namespace)
	if err != nil {
		return nil, err
	}
	if !pol.guard {
		return g.Cache.GetOrCompute(ctx, namespace, key, loader, ttl)
	}

	// the guarded path never reaches the engine's GetOrCompute, so record the
	// compute latency here or it vanishes from Statistics
	st := g.engine.stats.ns(namespace)
	start := time.Now()
	defer func() { st.observe(opCompute, time.Since(start)) }()

	// cheap path before any lock traffic
	if v, ok, err := g.engine.Get(ctx, namespace, key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	lockKey := pol.storageKey(key)
	h, err := g.locker.Acquire(ctx, lockKey, g.lease)
	switch {
	case err == nil:
		return g.computeUnderLock(ctx, namespace, key, loader, ttl, h)
	case errors.Is(err, lock.ErrNotAcquired):
		return g.awaitHolder(ctx, namespace, key)
	default:
		// locker transport failure; stampede protection is an optimization,
		// availability wins
		g.engine.log.Warn("lock acquire failed, computing unguarded",
			Fields{"namespace": namespace, "key": key, "err": err})
		return g.computeAndStore(ctx, namespace, key, loader, ttl)
	}
}

func (g *stampedeGuard) computeUnderLock(ctx context.Context, namespace, key string, loader LoaderFunc, ttl time.Duration, h lock.Handle) ([]byte, error) {
	defer func() {
		// release on a fresh context so a caller-cancelled ctx cannot strand
		// the lock until lease expiry
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := h.Release(rctx); err != nil {
			g.engine.log.Debug("lock release failed, lease will expire",
				Fields{"namespace": namespace, "key": key, "err": err})
		}
	}()

	// double-check: a previous holder may have stored between our miss and
	// our acquire
	if v, ok, err := g.engine.Get(ctx, namespace, key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}
	return g.computeAndStore(ctx, namespace, key, loader, ttl)
}

func (g *stampedeGuard) computeAndStore(ctx context.Context, namespace, key string, loader LoaderFunc, ttl time.Duration) ([]byte, error) {
	lctx, cancel := context.WithTimeout(ctx, g.loadTime)
	defer cancel()
	v, err := loader(lctx)
	if err != nil {
		return nil, fmt.Errorf("tiercache: loader: %w", err)
	}
	g.engine.storeComputed(ctx, namespace, key, v, ttl)
	return v, nil
}

// awaitHolder polls for the holder's result. When the wait budget runs out
// the caller gets ErrStampedeTimeout instead of computing for itself, so the
// loader stays single-flight; the holder's lease expiry is what re-admits
// computation after a crash.
func (g *stampedeGuard) awaitHolder(ctx context.Context, namespace, key string) ([]byte, error) {
	if g.failFast {
		if v, ok, err := g.engine.Get(ctx, namespace, key); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}
		g.engine.hooks.StampedeTimeout(namespace, key)
		return nil, fmt.Errorf("tiercache: key %s/%s: %w", namespace, key, ErrStampedeTimeout)
	}

	deadline := time.NewTimer(g.wait)
	defer deadline.Stop()
	tick := time.NewTicker(g.poll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			g.engine.hooks.StampedeTimeout(namespace, key)
			g.engine.log.Debug("gave up waiting for lock holder",
				Fields{"namespace": namespace, "key": key})
			return nil, fmt.Errorf("tiercache: key %s/%s: %w", namespace, key, ErrStampedeTimeout)
		case <-tick.C:
			if v, ok, err := g.engine.Get(ctx, namespace, key); err != nil {
				return nil, err
			} else if ok {
				return v, nil
			}
		}
	}
}
