// Package metrics defines the emission contract between the cache engine and
// an injected metrics backend. The engine names the series and tags them with
// namespace, operation and outcome; the backend (package metrics/prom, or the
// application's own) decides how they are exported.
package metrics

import "time"

// Outcomes attached to recorded operations.
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeDegraded = "degraded" // write landed locally but not in the shared tier
	OutcomeStale    = "stale"    // stale local value served during an outage
	OutcomeRejected = "rejected" // circuit open / stampede timeout
)

// Sink receives one record per cache operation. Implementations MUST be
// cheap, non-blocking, and must never panic into the caller; the recorder
// swallows panics but treats them as bugs.
type Sink interface {
	RecordOp(namespace, op, outcome string, elapsed time.Duration)
}

// Nop discards all records.
type Nop struct{}

var _ Sink = Nop{}

func (Nop) RecordOp(string, string, string, time.Duration) {}
