package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache/lock"
)

func TestAcquireReleaseReacquire(t *testing.T) {
	ctx := context.Background()
	l := New()

	h, err := l.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "k", time.Minute); !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("second Acquire: want ErrNotAcquired, got %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := l.Acquire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestDistinctKeysDoNotContend(t *testing.T) {
	ctx := context.Background()
	l := New()

	if _, err := l.Acquire(ctx, "a", time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(ctx, "b", time.Minute); err != nil {
		t.Fatalf("unrelated key blocked: %v", err)
	}
}

func TestLeaseExpiryFreesLock(t *testing.T) {
	ctx := context.Background()
	l := New()

	if _, err := l.Acquire(ctx, "k", 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := l.Acquire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("expired lease still held: %v", err)
	}
}

func TestStaleReleaseDoesNotFreeNewOwner(t *testing.T) {
	ctx := context.Background()
	l := New()

	h1, err := l.Acquire(ctx, "k", 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	// lease expired; a new owner takes over
	if _, err := l.Acquire(ctx, "k", time.Minute); err != nil {
		t.Fatal(err)
	}
	// the first holder's late release must not unlock the new owner
	if err := h1.Release(ctx); err != nil {
		t.Fatalf("stale Release: %v", err)
	}
	if _, err := l.Acquire(ctx, "k", time.Minute); !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("stale release freed the new owner's lease: %v", err)
	}
}
