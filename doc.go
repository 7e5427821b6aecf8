// Package tiercache implements a two-tier cache engine: a bounded in-process
// tier (L1) in front of a fleet-shared networked tier (L2), kept coherent
// across instances by an invalidation bus and wrapped in composable
// resilience decorators.
//
// Components:
//   - tier.Tier: byte store with TTL (local LRU, Redis, Ristretto, BigCache).
//   - bus.Bus: pub/sub channel broadcasting evictions to peer instances.
//   - lock.Locker: keyed leases backing the stampede guard.
//   - transform.Pipeline: per-namespace compression and encryption.
//   - codec.Codec[V]: (de)serializes V <-> []byte for the typed facade.
//
// Reads check L1 first, then L2, repopulating L1 with the L2-reported
// remaining TTL. Writes land in L1 and L2; an L2 failure degrades the write
// to instance-local (reported via DegradedWriteError) instead of failing it.
// Every mutation is announced on the bus so peer L1s evict their stale copy;
// the resulting local-tier consistency is eventual, bounded by transport
// latency.
//
// The decorator chain is assembled once by New and never mutated:
//
//	MetricsRecorder -> StampedeGuard -> engine -> [L1, CircuitBreaker(L2)]
//
// The circuit breaker composes at the tier boundary because the engine
// absorbs shared-tier faults into fallback behavior; wrapping outside it
// would leave the breaker blind to them.
package tiercache
