// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/tiercache"
//	"github.com/unkn0wn-root/tiercache/hooks/async"
//	"github.com/unkn0wn-root/tiercache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery:     10, // sample logs: ~every 10th self-heal
//	    FallbackMissEvery: 1,  // log every outage miss
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := tiercache.New(tiercache.Options{
//	    Local:  local,
//	    Shared: shared,
//	    Hooks:  hooks, // or `raw` if you don’t want async
//	})
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/bus"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery     uint64
	FallbackMissEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	fallbackCtr atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) DegradedWrite(ns, key string, cause error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.degraded_write",
		"ns", ns,
		"key", h.redact(key),
		"err", cause)
}

func (h *Hooks) FallbackMiss(ns, key string, cause error) {
	if h.l == nil || !sample(h.opts.FallbackMissEvery, &h.fallbackCtr) {
		return
	}
	h.l.Warn("tiercache.fallback_miss",
		"ns", ns,
		"key", h.redact(key),
		"err", cause)
}

func (h *Hooks) ServedStale(ns, key string) {
	if h.l == nil {
		return
	}
	h.l.Info("tiercache.served_stale",
		"ns", ns,
		"key", h.redact(key))
}

func (h *Hooks) SelfHeal(ns, key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("tiercache.self_heal",
		"ns", ns,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) PublishFailed(ev bus.Event, cause error) {
	if h.l == nil {
		return
	}
	if cause == nil {
		h.l.Warn("tiercache.publish_dropped",
			"ns", ev.Namespace,
			"key", h.redact(ev.Key))
		return
	}
	h.l.Error("tiercache.publish_failed",
		"ns", ev.Namespace,
		"key", h.redact(ev.Key),
		"err", cause)
}

func (h *Hooks) BreakerStateChange(name string, from, to tiercache.CircuitState) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.breaker_state",
		"name", name,
		"from", from.String(),
		"to", to.String())
}

func (h *Hooks) StampedeTimeout(ns, key string) {
	if h.l == nil {
		return
	}
	h.l.Info("tiercache.stampede_timeout",
		"ns", ns,
		"key", h.redact(key))
}
