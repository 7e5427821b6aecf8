package prom

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOp(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := New(Config{Registerer: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.RecordOp("user", "get", "hit", 3*time.Millisecond)
	s.RecordOp("user", "get", "hit", 1*time.Millisecond)
	s.RecordOp("user", "get", "miss", 2*time.Millisecond)

	hits := testutil.ToFloat64(s.ops.WithLabelValues("user", "get", "hit"))
	if hits != 2 {
		t.Fatalf("hit counter = %v, want 2", hits)
	}
	misses := testutil.ToFloat64(s.ops.WithLabelValues("user", "get", "miss"))
	if misses != 1 {
		t.Fatalf("miss counter = %v, want 1", misses)
	}

	n := testutil.CollectAndCount(s.latency, "tiercache_operation_duration_seconds")
	if n != 1 {
		t.Fatalf("latency series = %d, want 1", n)
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(Config{Registerer: reg}); err != nil {
		t.Fatalf("first New: %v", err)
	}
	if _, err := New(Config{Registerer: reg}); err == nil {
		t.Fatal("second registration should fail")
	}
}
