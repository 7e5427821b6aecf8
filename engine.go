package tiercache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/tiercache/bus"
	"github.com/unkn0wn-root/tiercache/internal/wire"
	"github.com/unkn0wn-root/tiercache/tier"
)

const (
	defaultTTL          = 10 * time.Minute
	defaultSharedOpTime = 500 * time.Millisecond
	defaultPublishQueue = 1024
	publishTimeout      = 2 * time.Second
)

// engine is the base of the decorator chain: it orchestrates the two tiers as
// one coherent logical cache. The local tier is mutated only here and by
// bus-driven eviction; the shared tier belongs to the whole fleet.
type engine struct {
	local  tier.Tier
	shared tier.Tier // nil => instance-local only
	router *router
	bus    bus.Bus
	origin string

	log   Logger
	hooks Hooks
	stats *statsRegistry

	enabled       bool
	failFast      bool
	sharedTimeout time.Duration

	pubQ      chan bus.Event
	pubWG     sync.WaitGroup
	unsub     func()
	closeOnce sync.Once
}

func newEngine(opts Options) (*engine, error) {
	if opts.Local == nil {
		return nil, &ConfigError{Reason: "local tier is required"}
	}
	if opts.Breaker != nil {
		if err := opts.Breaker.validate(); err != nil {
			return nil, err
		}
	}

	r, err := newRouter(opts.Namespaces, coalesce(opts.DefaultTTL, defaultTTL))
	if err != nil {
		return nil, err
	}

	e := &engine{
		local:         opts.Local,
		shared:        opts.Shared,
		router:        r,
		origin:        coalesce(opts.InstanceID, randomInstanceID()),
		log:           coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:         coalesce[Hooks](opts.Hooks, NopHooks{}),
		stats:         newStatsRegistry(opts.StatsWindow),
		enabled:       !opts.Disabled,
		failFast:      opts.FailFastWrites,
		sharedTimeout: coalesce(opts.SharedOpTimeout, defaultSharedOpTime),
	}

	e.bus = opts.Bus
	if e.bus == nil {
		e.bus = bus.Nop{}
	}

	if opts.Breaker != nil && e.shared != nil {
		e.shared = newBreakerTier(e.shared, *opts.Breaker, e.hooks)
	}

	if e.enabled {
		e.pubQ = make(chan bus.Event, coalesce(opts.PublishQueue, defaultPublishQueue))
		e.pubWG.Add(1)
		go e.publishLoop()

		unsub, err := e.bus.Subscribe(context.Background(), e.onInvalidation)
		if err != nil {
			close(e.pubQ)
			e.pubWG.Wait()
			return nil, &ConfigError{Reason: "invalidation bus subscribe", Cause: err}
		}
		e.unsub = unsub
	}
	return e, nil
}

func (e *engine) Enabled() bool { return e.enabled }

func (e *engine) Close(ctx context.Context) error {
	var errs []error
	e.closeOnce.Do(func() {
		if e.unsub != nil {
			e.unsub()
		}
		if e.pubQ != nil {
			close(e.pubQ)
			e.pubWG.Wait()
		}
		e.stats.close()
		if err := e.local.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("local tier close: %w", err))
		}
		if e.shared != nil {
			if err := e.shared.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shared tier close: %w", err))
			}
		}
		if err := e.bus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("bus close: %w", err))
		}
	})
	return errors.Join(errs...)
}

// boundShared tightens ctx so no shared-tier call can outlive the configured
// budget. The tier may bound further; this is the engine-side safety net.
func (e *engine) boundShared(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.sharedTimeout)
}

func (e *engine) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	if !e.enabled {
		return nil, false, nil
	}
	pol, err := e.router.policy(namespace)
	if err != nil {
		return nil, false, err
	}
	sk := pol.storageKey(key)
	st := e.stats.ns(namespace)
	start := time.Now()
	defer func() { st.observe(opGet, time.Since(start)) }()

	// L1 fast path: no shared call on a local hit.
	raw, _, ok, err := e.local.Get(ctx, sk)
	if err != nil {
		return nil, false, fmt.Errorf("tiercache: local tier get: %w", err)
	}
	if ok {
		if v, opened := e.open(namespace, key, pol, sk, raw, false); opened {
			st.hits.Add(1)
			return v, true, nil
		}
		// corrupt local entry was evicted; fall through to L2
	}

	if e.shared == nil {
		st.misses.Add(1)
		return nil, false, nil
	}

	sctx, cancel := e.boundShared(ctx)
	raw, remaining, ok, err := e.shared.Get(sctx, sk)
	cancel()
	if err != nil {
		if sharedDown(err) {
			return e.sharedOutageRead(ctx, namespace, key, pol, sk, st, err)
		}
		return nil, false, fmt.Errorf("tiercache: shared tier get: %w", err)
	}
	if !ok {
		st.misses.Add(1)
		return nil, false, nil
	}

	v, opened := e.open(namespace, key, pol, sk, raw, true)
	if !opened {
		st.misses.Add(1)
		return nil, false, nil
	}

	// repopulate L1 with the L2-reported remaining lifetime
	ttl := remaining
	if ttl <= 0 {
		ttl = pol.ttl
	}
	if err := e.local.Set(ctx, sk, raw, ttl); err != nil {
		e.log.Warn("local repopulate failed", Fields{"namespace": namespace, "key": key, "err": err})
	}
	st.hits.Add(1)
	return v, true, nil
}

// sharedOutageRead resolves a read when the shared tier is down: an opt-in
// stale local value, otherwise a strict miss. Never an error.
func (e *engine) sharedOutageRead(ctx context.Context, namespace, key string, pol *policy, sk string, st *nsStats, cause error) ([]byte, bool, error) {
	if pol.serveStale {
		if sr, ok := e.local.(tier.StaleReader); ok {
			if raw, found, _ := sr.GetStale(ctx, sk); found {
				if v, opened := e.open(namespace, key, pol, sk, raw, false); opened {
					st.staleServes.Add(1)
					e.hooks.ServedStale(namespace, key)
					e.log.Debug("served stale local value during shared outage",
						Fields{"namespace": namespace, "key": key})
					return v, true, nil
				}
			}
		}
	}
	st.fallbackMisses.Add(1)
	e.hooks.FallbackMiss(namespace, key, cause)
	e.log.Warn("shared tier unavailable, reporting miss",
		Fields{"namespace": namespace, "key": key, "err": cause})
	return nil, false, nil
}

// open unwraps an envelope and reverses its transforms. Corrupt or
// untransformable entries are evicted from the tier they came from
// (self-heal) and reported absent.
func (e *engine) open(namespace, key string, pol *policy, sk string, raw []byte, fromShared bool) ([]byte, bool) {
	flags, _, payload, err := wire.Decode(raw)
	if err != nil {
		e.selfHeal(namespace, key, sk, "corrupt", fromShared, err)
		return nil, false
	}
	v, err := pol.pipeline.Reverse(payload, flags)
	if err != nil {
		e.selfHeal(namespace, key, sk, "transform", fromShared, err)
		return nil, false
	}
	return v, true
}

func (e *engine) selfHeal(namespace, key, sk, reason string, fromShared bool, cause error) {
	if fromShared {
		reason = "shared-" + reason
		sctx, cancel := e.boundShared(context.Background())
		_ = e.shared.Del(sctx, sk)
		cancel()
	} else {
		_ = e.local.Del(context.Background(), sk)
	}
	e.hooks.SelfHeal(namespace, key, reason)
	e.log.Warn("evicted unreadable entry", Fields{
		"namespace": namespace, "key": key, "reason": reason, "err": cause,
	})
}

func (e *engine) GetOrCompute(ctx context.Context, namespace, key string, loader LoaderFunc, ttl time.Duration) ([]byte, error) {
	if !e.enabled {
		v, err := loader(ctx)
		if err != nil {
			return nil, fmt.Errorf("tiercache: loader: %w", err)
		}
		return v, nil
	}
	st := e.stats.ns(namespace)
	start := time.Now()
	defer func() { st.observe(opCompute, time.Since(start)) }()

	if v, ok, err := e.Get(ctx, namespace, key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	v, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("tiercache: loader: %w", err)
	}
	e.storeComputed(ctx, namespace, key, v, ttl)
	return v, nil
}

// storeComputed persists a loader result best-effort: the caller already has
// the value, so a cache failure must not fail the request.
func (e *engine) storeComputed(ctx context.Context, namespace, key string, v []byte, ttl time.Duration) {
	err := e.Set(ctx, namespace, key, v, ttl)
	if err == nil {
		return
	}
	var degraded *DegradedWriteError
	if errors.As(err, &degraded) {
		return // hook already fired
	}
	e.log.Error("storing computed value failed", Fields{
		"namespace": namespace, "key": key, "err": err,
	})
}

func (e *engine) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if !e.enabled {
		return nil
	}
	pol, err := e.router.policy(namespace)
	if err != nil {
		return err
	}
	sk := pol.storageKey(key)
	st := e.stats.ns(namespace)
	start := time.Now()
	defer func() { st.observe(opSet, time.Since(start)) }()

	if ttl == 0 {
		ttl = pol.ttl
	}

	payload, flags, err := pol.pipeline.Apply(value)
	if err != nil {
		return fmt.Errorf("tiercache: transform: %w", err)
	}
	blob := wire.Encode(flags, time.Now().UnixNano(), payload)

	if err := e.local.Set(ctx, sk, blob, ttl); err != nil {
		return fmt.Errorf("tiercache: local tier set: %w", err)
	}

	var degraded error
	if e.shared != nil {
		sctx, cancel := e.boundShared(ctx)
		err := e.shared.Set(sctx, sk, blob, ttl)
		cancel()
		if err != nil {
			if e.failFast {
				return fmt.Errorf("tiercache: shared tier set: %w", err)
			}
			st.degradedWrites.Add(1)
			e.hooks.DegradedWrite(namespace, key, err)
			e.log.Warn("degraded write: shared tier not updated",
				Fields{"namespace": namespace, "key": key, "err": err})
			degraded = &DegradedWriteError{Namespace: namespace, Key: key, Cause: err}
		}
	}

	e.publish(namespace, key, bus.OpPut)
	return degraded
}

func (e *engine) Delete(ctx context.Context, namespace, key string) error {
	if !e.enabled {
		return nil
	}
	pol, err := e.router.policy(namespace)
	if err != nil {
		return err
	}
	sk := pol.storageKey(key)
	st := e.stats.ns(namespace)
	start := time.Now()
	defer func() { st.observe(opDelete, time.Since(start)) }()

	if err := e.local.Del(ctx, sk); err != nil {
		return fmt.Errorf("tiercache: local tier del: %w", err)
	}

	var degraded error
	if e.shared != nil {
		sctx, cancel := e.boundShared(ctx)
		err := e.shared.Del(sctx, sk)
		cancel()
		if err != nil {
			if e.failFast {
				return fmt.Errorf("tiercache: shared tier del: %w", err)
			}
			st.degradedWrites.Add(1)
			e.hooks.DegradedWrite(namespace, key, err)
			degraded = &DegradedWriteError{Namespace: namespace, Key: key, Cause: err}
		}
	}

	// published regardless of whether either tier held the key: eviction is
	// idempotent and peers may still hold a copy
	e.publish(namespace, key, bus.OpEvict)
	return degraded
}

func (e *engine) Clear(ctx context.Context, namespace string) error {
	if !e.enabled {
		return nil
	}
	if namespace == "" {
		return &ConfigError{Reason: "Clear requires a namespace"}
	}
	pol, err := e.router.policy(namespace)
	if err != nil {
		return err
	}
	st := e.stats.ns(namespace)
	start := time.Now()
	defer func() { st.observe(opClear, time.Since(start)) }()

	if err := clearPrefix(ctx, e.local, pol.prefix); err != nil {
		return fmt.Errorf("tiercache: local tier clear: %w", err)
	}

	var degraded error
	if e.shared != nil {
		sctx, cancel := e.boundShared(ctx)
		err := clearPrefix(sctx, e.shared, pol.prefix)
		cancel()
		if err != nil {
			if e.failFast {
				return fmt.Errorf("tiercache: shared tier clear: %w", err)
			}
			st.degradedWrites.Add(1)
			e.hooks.DegradedWrite(namespace, "", err)
			degraded = &DegradedWriteError{Namespace: namespace, Cause: err}
		}
	}

	e.publish(namespace, "", bus.OpEvict)
	return degraded
}

// clearPrefix prefers prefix deletion; tiers without it lose everything,
// which is still correct (re-fetch repopulates) just broader.
func clearPrefix(ctx context.Context, t tier.Tier, prefix string) error {
	if pd, ok := t.(tier.PrefixDeleter); ok {
		return pd.DelPrefix(ctx, prefix)
	}
	return t.Clear(ctx)
}

func (e *engine) Contains(ctx context.Context, namespace, key string) (bool, error) {
	if !e.enabled {
		return false, nil
	}
	pol, err := e.router.policy(namespace)
	if err != nil {
		return false, err
	}
	sk := pol.storageKey(key)
	st := e.stats.ns(namespace)
	start := time.Now()
	defer func() { st.observe(opContains, time.Since(start)) }()

	ok, err := e.local.Contains(ctx, sk)
	if err != nil {
		return false, fmt.Errorf("tiercache: local tier contains: %w", err)
	}
	if ok || e.shared == nil {
		return ok, nil
	}

	sctx, cancel := e.boundShared(ctx)
	ok, err = e.shared.Contains(sctx, sk)
	cancel()
	if err != nil {
		if sharedDown(err) {
			e.hooks.FallbackMiss(namespace, key, err)
			return false, nil
		}
		return false, fmt.Errorf("tiercache: shared tier contains: %w", err)
	}
	return ok, nil
}

func (e *engine) Increment(ctx context.Context, namespace, key string, delta int64) (int64, error) {
	return e.adjust(ctx, namespace, key, delta, opIncrement)
}

func (e *engine) Decrement(ctx context.Context, namespace, key string, delta int64) (int64, error) {
	return e.adjust(ctx, namespace, key, -delta, opDecrement)
}

func (e *engine) adjust(ctx context.Context, namespace, key string, delta int64, op string) (int64, error) {
	if !e.enabled {
		return 0, nil
	}
	if e.shared == nil {
		return 0, fmt.Errorf("tiercache: %s without shared tier: %w", op, ErrIncrementUnsupported)
	}
	pol, err := e.router.policy(namespace)
	if err != nil {
		return 0, err
	}
	sk := pol.storageKey(key)
	st := e.stats.ns(namespace)
	start := time.Now()
	defer func() { st.observe(op, time.Since(start)) }()

	sctx, cancel := e.boundShared(ctx)
	v, err := e.shared.Increment(sctx, sk, delta, pol.ttl)
	cancel()
	if err != nil {
		// counters have no meaningful local fallback; surface the condition
		// and let the caller decide
		return 0, fmt.Errorf("tiercache: %s: %w", op, err)
	}

	// any cached copy of this key is now stale
	_ = e.local.Del(ctx, sk)
	e.publish(namespace, key, bus.OpEvict)
	return v, nil
}

func (e *engine) Stats(namespace string) Statistics {
	out := e.stats.ns(namespace).snapshot(namespace)
	out.Local = e.local.Stats()
	if e.shared != nil {
		out.Shared = e.shared.Stats()
	}
	return out
}

func (e *engine) ResetStats(namespace string) { e.stats.reset(namespace) }

// publish enqueues an invalidation event. The write path never waits for
// delivery; a full queue drops the event and reports it through hooks.
func (e *engine) publish(namespace, key string, op bus.Op) {
	ev := bus.Event{
		Namespace: namespace,
		Key:       key,
		Op:        op,
		Origin:    e.origin,
		At:        time.Now(),
	}
	select {
	case e.pubQ <- ev:
	default:
		e.hooks.PublishFailed(ev, nil)
	}
}

func (e *engine) publishLoop() {
	defer e.pubWG.Done()
	for ev := range e.pubQ {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := e.bus.Publish(ctx, ev)
		cancel()
		if err != nil {
			e.hooks.PublishFailed(ev, err)
			e.log.Warn("invalidation publish failed", Fields{
				"namespace": ev.Namespace, "key": ev.Key, "err": err,
			})
		}
	}
}

// onInvalidation applies a peer's eviction to the local tier. Idempotent:
// evicting an absent key is a no-op, so duplicate delivery is harmless.
func (e *engine) onInvalidation(ev bus.Event) {
	if ev.Origin == e.origin {
		return // self-echo
	}
	pol, err := e.router.policy(ev.Namespace)
	if err != nil {
		e.log.Warn("dropping invalidation for invalid namespace",
			Fields{"namespace": ev.Namespace})
		return
	}
	ctx := context.Background()
	if ev.Key == "" {
		if err := clearPrefix(ctx, e.local, pol.prefix); err != nil {
			e.log.Warn("applying namespace invalidation failed",
				Fields{"namespace": ev.Namespace, "err": err})
		}
	} else {
		if err := e.local.Del(ctx, pol.storageKey(ev.Key)); err != nil {
			e.log.Warn("applying invalidation failed",
				Fields{"namespace": ev.Namespace, "key": ev.Key, "err": err})
			return
		}
	}
	e.stats.ns(ev.Namespace).invalidationsApplied.Add(1)
}
