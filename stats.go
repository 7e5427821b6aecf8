package tiercache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/tiercache/tier"
)

// Operation names used in Statistics.Latency and metrics emission.
const (
	opGet       = "get"
	opCompute   = "compute"
	opSet       = "set"
	opDelete    = "delete"
	opClear     = "clear"
	opContains  = "contains"
	opIncrement = "increment"
	opDecrement = "decrement"
)

var allOps = []string{opGet, opCompute, opSet, opDelete, opClear, opContains, opIncrement, opDecrement}

// LatencySummary is a sampled latency distribution for one operation.
type LatencySummary struct {
	Count uint64
	Avg   time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// Statistics is a point-in-time snapshot for one namespace. Counters are
// accumulated since the last window boundary or ResetStats call.
type Statistics struct {
	Namespace string
	Since     time.Time

	Hits                 uint64
	Misses               uint64
	DegradedWrites       uint64
	StaleServes          uint64
	FallbackMisses       uint64
	InvalidationsApplied uint64

	// Latency by operation name ("get", "set", ...).
	Latency map[string]LatencySummary

	// Tier-level counters (entries, evictions, size bounds).
	Local  tier.Stats
	Shared tier.Stats
}

const latencySamples = 512

// opLatency is a fixed-size latency reservoir. Recording is best-effort: when
// the mutex is contended the sample is dropped so cache operations never
// block on bookkeeping.
type opLatency struct {
	mu      sync.Mutex
	count   uint64
	total   time.Duration
	samples [latencySamples]time.Duration
	filled  int
	idx     int
}

func (l *opLatency) observe(d time.Duration) {
	if !l.mu.TryLock() {
		return // drop, never block
	}
	l.count++
	l.total += d
	l.samples[l.idx] = d
	l.idx = (l.idx + 1) % latencySamples
	if l.filled < latencySamples {
		l.filled++
	}
	l.mu.Unlock()
}

func (l *opLatency) summary() LatencySummary {
	l.mu.Lock()
	count := l.count
	total := l.total
	buf := make([]time.Duration, l.filled)
	copy(buf, l.samples[:l.filled])
	l.mu.Unlock()

	s := LatencySummary{Count: count}
	if count > 0 {
		s.Avg = total / time.Duration(count)
	}
	if len(buf) > 0 {
		sort.Slice(buf, func(i, j int) bool { return buf[i] < buf[j] })
		s.P50 = percentile(buf, 0.50)
		s.P95 = percentile(buf, 0.95)
		s.P99 = percentile(buf, 0.99)
	}
	return s
}

// percentile indexes into a sorted slice; nearest-rank method.
func percentile(sorted []time.Duration, q float64) time.Duration {
	i := int(q * float64(len(sorted)))
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

func (l *opLatency) reset() {
	l.mu.Lock()
	l.count, l.total = 0, 0
	l.filled, l.idx = 0, 0
	l.mu.Unlock()
}

type nsStats struct {
	hits                 atomic.Uint64
	misses               atomic.Uint64
	degradedWrites       atomic.Uint64
	staleServes          atomic.Uint64
	fallbackMisses       atomic.Uint64
	invalidationsApplied atomic.Uint64

	lat   map[string]*opLatency
	since atomic.Int64 // unix nanos
}

func newNSStats() *nsStats {
	s := &nsStats{lat: make(map[string]*opLatency, len(allOps))}
	for _, op := range allOps {
		s.lat[op] = &opLatency{}
	}
	s.since.Store(time.Now().UnixNano())
	return s
}

func (s *nsStats) observe(op string, d time.Duration) {
	if l, ok := s.lat[op]; ok {
		l.observe(d)
	}
}

func (s *nsStats) reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.degradedWrites.Store(0)
	s.staleServes.Store(0)
	s.fallbackMisses.Store(0)
	s.invalidationsApplied.Store(0)
	for _, l := range s.lat {
		l.reset()
	}
	s.since.Store(time.Now().UnixNano())
}

func (s *nsStats) snapshot(namespace string) Statistics {
	out := Statistics{
		Namespace:            namespace,
		Since:                time.Unix(0, s.since.Load()),
		Hits:                 s.hits.Load(),
		Misses:               s.misses.Load(),
		DegradedWrites:       s.degradedWrites.Load(),
		StaleServes:          s.staleServes.Load(),
		FallbackMisses:       s.fallbackMisses.Load(),
		InvalidationsApplied: s.invalidationsApplied.Load(),
		Latency:              make(map[string]LatencySummary, len(s.lat)),
	}
	for op, l := range s.lat {
		out.Latency[op] = l.summary()
	}
	return out
}

// statsRegistry holds per-namespace counters and the optional rolling-window
// reset loop.
type statsRegistry struct {
	mu sync.RWMutex
	m  map[string]*nsStats

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newStatsRegistry(window time.Duration) *statsRegistry {
	r := &statsRegistry{
		m:      make(map[string]*nsStats),
		stopCh: make(chan struct{}),
	}
	if window > 0 {
		r.ticker = time.NewTicker(window)
		r.wg.Add(1)
		go r.windowLoop()
	}
	return r
}

func (r *statsRegistry) windowLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ticker.C:
			r.mu.RLock()
			for _, s := range r.m {
				s.reset()
			}
			r.mu.RUnlock()
		case <-r.stopCh:
			return
		}
	}
}

func (r *statsRegistry) ns(namespace string) *nsStats {
	r.mu.RLock()
	s, ok := r.m[namespace]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.m[namespace]; ok {
		return s
	}
	s = newNSStats()
	r.m[namespace] = s
	return s
}

func (r *statsRegistry) reset(namespace string) {
	if namespace == "" {
		r.mu.RLock()
		for _, s := range r.m {
			s.reset()
		}
		r.mu.RUnlock()
		return
	}
	r.ns(namespace).reset()
}

func (r *statsRegistry) close() {
	r.closeOnce.Do(func() {
		close(r.stopCh)
		if r.ticker != nil {
			r.ticker.Stop()
		}
		r.wg.Wait()
	})
}
