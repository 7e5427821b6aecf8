// Package redis implements the shared tier on top of go-redis.
//
// Every call runs under a bounded timeout (OpTimeout) so a wedged connection
// cannot block a request path. Transport and server errors are reported as
// tier.ErrUnavailable (wrapped), never as a miss.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiercache/tier"
)

var ErrNilClient = errors.New("redis tier: nil client")

const defaultOpTimeout = 500 * time.Millisecond

type Tier struct {
	rdb         goredis.UniversalClient
	opTimeout   time.Duration
	closeClient bool
}

var (
	_ tier.Tier          = (*Tier)(nil)
	_ tier.PrefixDeleter = (*Tier)(nil)
)

type Config struct {
	Client goredis.UniversalClient

	// OpTimeout caps every call against the backend. 0 => 500ms.
	// It only tightens the caller's deadline, never extends it.
	OpTimeout time.Duration

	// CloseClient releases the client on Close. Set true only if this tier
	// exclusively owns the client.
	CloseClient bool
}

func New(cfg Config) (*Tier, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	t := &Tier{rdb: cfg.Client, opTimeout: cfg.OpTimeout, closeClient: cfg.CloseClient}
	if t.opTimeout <= 0 {
		t.opTimeout = defaultOpTimeout
	}
	return t, nil
}

func (t *Tier) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.opTimeout)
}

// unavailable maps transport/server errors to tier.ErrUnavailable, keeping
// the cause in the chain. Context expiry counts: a shared-tier call that ran
// out of budget is indistinguishable from a down backend for fallback purposes.
func unavailable(op string, err error) error {
	return fmt.Errorf("redis tier: %s: %w: %w", op, tier.ErrUnavailable, err)
}

func (t *Tier) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()

	pipe := t.rdb.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, 0, false, unavailable("get", err)
	}

	b, err := getCmd.Bytes()
	if err == goredis.Nil {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, unavailable("get", err)
	}

	var remaining time.Duration
	if d, err := ttlCmd.Result(); err == nil && d > 0 {
		remaining = d
	}
	return b, remaining, true, nil
}

func (t *Tier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0 // no expiry
	}
	if err := t.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (t *Tier) Del(ctx context.Context, key string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()

	if err := t.rdb.Del(ctx, key).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

// DelPrefix removes every key under prefix using SCAN, so it never blocks the
// server the way KEYS would. Runs under a single op timeout; namespace clears
// are administrative, not hot-path.
func (t *Tier) DelPrefix(ctx context.Context, prefix string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()

	iter := t.rdb.Scan(ctx, 0, prefix+"*", 256).Iterator()
	batch := make([]string, 0, 256)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := t.rdb.Del(ctx, batch...).Err(); err != nil {
				return unavailable("del-prefix", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return unavailable("del-prefix", err)
	}
	if len(batch) > 0 {
		if err := t.rdb.Del(ctx, batch...).Err(); err != nil {
			return unavailable("del-prefix", err)
		}
	}
	return nil
}

func (t *Tier) Clear(ctx context.Context) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()

	if err := t.rdb.FlushDB(ctx).Err(); err != nil {
		return unavailable("clear", err)
	}
	return nil
}

func (t *Tier) Contains(ctx context.Context, key string) (bool, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()

	n, err := t.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("contains", err)
	}
	return n > 0, nil
}

// Increment is a single INCRBY round-trip, so concurrent deltas from N
// callers always sum correctly. When the increment created the key, the TTL
// is started in the same pipeline.
func (t *Tier) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()

	if ttl <= 0 {
		v, err := t.rdb.IncrBy(ctx, key, delta).Result()
		if err != nil {
			return 0, unavailable("increment", err)
		}
		return v, nil
	}

	var incr *goredis.IntCmd
	_, err := t.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.IncrBy(ctx, key, delta)
		// NX: only arm expiry when this write created the key
		p.ExpireNX(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, unavailable("increment", err)
	}
	return incr.Val(), nil
}

// Stats is best-effort: the shared tier tracks nothing locally beyond what
// the engine already counts per namespace. Backend-side stats (INFO) are not
// polled on this path.
func (t *Tier) Stats() tier.Stats { return tier.Stats{} }

// Close releases the underlying client only when this tier owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (t *Tier) Close(context.Context) error {
	if t.closeClient {
		if err := t.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
