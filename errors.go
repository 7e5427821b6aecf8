package tiercache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/tiercache/tier"
)

var (
	// ErrTierUnavailable re-exports tier.ErrUnavailable: the shared tier
	// could not serve a call. Reads absorb it into fallback behavior; writes
	// surface it wrapped in DegradedWriteError unless fail-fast is on.
	ErrTierUnavailable = tier.ErrUnavailable

	// ErrIncrementUnsupported re-exports tier.ErrIncrementUnsupported:
	// atomic counters only exist on the shared tier. This is a contract
	// violation by the caller, surfaced hard.
	ErrIncrementUnsupported = tier.ErrIncrementUnsupported

	// ErrStampedeTimeout reports that the stampede lock could not be
	// acquired within the wait budget and no value appeared meanwhile.
	// Recoverable: retry or treat as a miss.
	ErrStampedeTimeout = errors.New("tiercache: stampede lock wait exhausted")

	// ErrCircuitOpen reports that the circuit breaker rejected the
	// shared-tier call. Reads fall back like an outage; writes degrade.
	ErrCircuitOpen = errors.New("tiercache: circuit open")
)

// ConfigError reports invalid engine configuration. Always raised from New,
// never deferred to runtime.
type ConfigError struct {
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tiercache: config: %s: %v", e.Reason, e.Cause)
	}
	return "tiercache: config: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// DegradedWriteError reports a mutation that succeeded on the local tier but
// did not reach the shared tier. The cache is instance-local for this key
// until the shared tier recovers; the operation itself did not fail.
type DegradedWriteError struct {
	Namespace string
	Key       string
	Cause     error
}

func (e *DegradedWriteError) Error() string {
	return fmt.Sprintf("tiercache: degraded write %s:%s: shared tier not updated: %v",
		e.Namespace, e.Key, e.Cause)
}

func (e *DegradedWriteError) Unwrap() error { return e.Cause }

// sharedDown reports whether err means the shared tier cannot serve calls
// right now, either because the backend failed or the breaker is open.
func sharedDown(err error) bool {
	return errors.Is(err, tier.ErrUnavailable) || errors.Is(err, ErrCircuitOpen)
}
