package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache/tier"
)

func newTier(t *testing.T, cfg Config) *Tier {
	t.Helper()
	lt, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = lt.Close(context.Background()) })
	return lt
}

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	lt := newTier(t, Config{SweepInterval: -1})

	if err := lt.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, remaining, ok, err := lt.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("Get: ok=%v err=%v v=%q", ok, err, v)
	}
	if remaining != 0 {
		t.Fatalf("no-TTL entry reported remaining=%v", remaining)
	}

	if err := lt.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, _, ok, _ := lt.Get(ctx, "k"); ok {
		t.Fatal("entry survived Del")
	}
	// deleting again is fine
	if err := lt.Del(ctx, "k"); err != nil {
		t.Fatalf("second Del: %v", err)
	}
}

func TestExpiredReadsAsMissButStaysForStaleRead(t *testing.T) {
	ctx := context.Background()
	lt := newTier(t, Config{SweepInterval: -1})

	if err := lt.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	if _, _, ok, _ := lt.Get(ctx, "k"); ok {
		t.Fatal("expired entry served as live")
	}
	if ok, _ := lt.Contains(ctx, "k"); ok {
		t.Fatal("Contains true for expired entry")
	}
	// stale path still sees it until a sweep
	if v, ok, _ := lt.GetStale(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("GetStale: ok=%v v=%q", ok, v)
	}
}

func TestJanitorSweepsExpired(t *testing.T) {
	ctx := context.Background()
	lt := newTier(t, Config{SweepInterval: 20 * time.Millisecond})

	if err := lt.Set(ctx, "k", []byte("v"), 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for lt.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("janitor never removed the expired entry")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok, _ := lt.GetStale(ctx, "k"); ok {
		t.Fatal("GetStale found an entry after the sweep")
	}
	if lt.Stats().Expired == 0 {
		t.Fatal("expired counter not bumped")
	}
}

func TestLRUEvictionOrder(t *testing.T) {
	ctx := context.Background()
	lt := newTier(t, Config{MaxEntries: 2, SweepInterval: -1})

	_ = lt.Set(ctx, "a", []byte("1"), 0)
	_ = lt.Set(ctx, "b", []byte("2"), 0)
	// touch a so b is the LRU
	if _, _, ok, _ := lt.Get(ctx, "a"); !ok {
		t.Fatal("a missing")
	}
	_ = lt.Set(ctx, "c", []byte("3"), 0)

	if _, _, ok, _ := lt.Get(ctx, "b"); ok {
		t.Fatal("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, _, ok, _ := lt.Get(ctx, k); !ok {
			t.Fatalf("%s should have survived", k)
		}
	}
	if lt.Stats().Evictions != 1 {
		t.Fatalf("evictions=%d, want 1", lt.Stats().Evictions)
	}
}

func TestOverwriteDoesNotGrow(t *testing.T) {
	ctx := context.Background()
	lt := newTier(t, Config{MaxEntries: 2, SweepInterval: -1})

	for i := 0; i < 5; i++ {
		if err := lt.Set(ctx, "k", []byte{byte(i)}, 0); err != nil {
			t.Fatal(err)
		}
	}
	if lt.Len() != 1 {
		t.Fatalf("len=%d after overwrites, want 1", lt.Len())
	}
	v, _, ok, _ := lt.Get(ctx, "k")
	if !ok || v[0] != 4 {
		t.Fatalf("latest value lost: ok=%v v=%v", ok, v)
	}
}

func TestDelPrefix(t *testing.T) {
	ctx := context.Background()
	lt := newTier(t, Config{SweepInterval: -1})

	_ = lt.Set(ctx, "user:1", []byte("a"), 0)
	_ = lt.Set(ctx, "user:2", []byte("b"), 0)
	_ = lt.Set(ctx, "session:1", []byte("c"), 0)

	if err := lt.DelPrefix(ctx, "user:"); err != nil {
		t.Fatalf("DelPrefix: %v", err)
	}
	if lt.Len() != 1 {
		t.Fatalf("len=%d, want 1", lt.Len())
	}
	if _, _, ok, _ := lt.Get(ctx, "session:1"); !ok {
		t.Fatal("unrelated prefix removed")
	}
}

func TestIncrementUnsupported(t *testing.T) {
	lt := newTier(t, Config{SweepInterval: -1})
	if _, err := lt.Increment(context.Background(), "n", 1, 0); !errors.Is(err, tier.ErrIncrementUnsupported) {
		t.Fatalf("want ErrIncrementUnsupported, got %v", err)
	}
}

func TestRemainingTTL(t *testing.T) {
	ctx := context.Background()
	lt := newTier(t, Config{SweepInterval: -1})

	if err := lt.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	_, remaining, ok, _ := lt.Get(ctx, "k")
	if !ok {
		t.Fatal("miss")
	}
	if remaining <= 50*time.Second || remaining > time.Minute {
		t.Fatalf("remaining=%v, want ~1m", remaining)
	}
}

func TestStatsCounting(t *testing.T) {
	ctx := context.Background()
	lt := newTier(t, Config{SweepInterval: -1})

	_ = lt.Set(ctx, "k", []byte("v"), 0)
	_, _, _, _ = lt.Get(ctx, "k")
	_, _, _, _ = lt.Get(ctx, "absent")

	st := lt.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 {
		t.Fatalf("stats=%+v", st)
	}
	if st.MaxSize != defaultMaxEntries {
		t.Fatalf("MaxSize=%d", st.MaxSize)
	}
}

func TestRejectsNegativeMaxEntries(t *testing.T) {
	if _, err := New(Config{MaxEntries: -1}); err == nil {
		t.Fatal("want error for negative MaxEntries")
	}
}
