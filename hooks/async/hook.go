package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/bus"
)

type Hooks struct {
	inner tiercache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(inner tiercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) DegradedWrite(ns, k string, err error) {
	h.try(func() { h.inner.DegradedWrite(ns, k, err) })
}
func (h *Hooks) FallbackMiss(ns, k string, err error) {
	h.try(func() { h.inner.FallbackMiss(ns, k, err) })
}
func (h *Hooks) ServedStale(ns, k string) { h.try(func() { h.inner.ServedStale(ns, k) }) }
func (h *Hooks) SelfHeal(ns, k, r string) { h.try(func() { h.inner.SelfHeal(ns, k, r) }) }
func (h *Hooks) PublishFailed(ev bus.Event, err error) {
	h.try(func() { h.inner.PublishFailed(ev, err) })
}
func (h *Hooks) BreakerStateChange(name string, from, to tiercache.CircuitState) {
	h.try(func() { h.inner.BreakerStateChange(name, from, to) })
}
func (h *Hooks) StampedeTimeout(ns, k string) { h.try(func() { h.inner.StampedeTimeout(ns, k) }) }
