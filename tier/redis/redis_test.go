package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tiercache/tier"
)

func newTestTier(t *testing.T) (*Tier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tt, err := New(Config{Client: client})
	require.NoError(t, err)
	return tt, mr
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	tt, _ := newTestTier(t)

	require.NoError(t, tt.Set(ctx, "k", []byte("v"), time.Minute))

	v, remaining, ok, err := tt.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
	assert.Greater(t, remaining, 50*time.Second)
	assert.LessOrEqual(t, remaining, time.Minute)
}

func TestGetMiss(t *testing.T) {
	ctx := context.Background()
	tt, _ := newTestTier(t)

	_, _, ok, err := tt.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNoExpiryValues(t *testing.T) {
	ctx := context.Background()
	tt, mr := newTestTier(t)

	require.NoError(t, tt.Set(ctx, "k", []byte("v"), -1))
	assert.Equal(t, time.Duration(0), mr.TTL("k"))

	v, remaining, ok, err := tt.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
	assert.Equal(t, time.Duration(0), remaining)
}

func TestExpiryEnforced(t *testing.T) {
	ctx := context.Background()
	tt, mr := newTestTier(t)

	require.NoError(t, tt.Set(ctx, "k", []byte("v"), 50*time.Millisecond))
	mr.FastForward(time.Second)

	_, _, ok, err := tt.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelAndContains(t *testing.T) {
	ctx := context.Background()
	tt, _ := newTestTier(t)

	require.NoError(t, tt.Set(ctx, "k", []byte("v"), 0))

	ok, err := tt.Contains(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tt.Del(ctx, "k"))

	ok, err = tt.Contains(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting an absent key is not an error
	require.NoError(t, tt.Del(ctx, "k"))
}

func TestDelPrefix(t *testing.T) {
	ctx := context.Background()
	tt, mr := newTestTier(t)

	for _, k := range []string{"user:1", "user:2", "user:3", "session:1"} {
		require.NoError(t, tt.Set(ctx, k, []byte("v"), 0))
	}
	require.NoError(t, tt.DelPrefix(ctx, "user:"))

	assert.False(t, mr.Exists("user:1"))
	assert.False(t, mr.Exists("user:2"))
	assert.False(t, mr.Exists("user:3"))
	assert.True(t, mr.Exists("session:1"))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	tt, mr := newTestTier(t)

	require.NoError(t, tt.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, tt.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, tt.Clear(ctx))

	assert.False(t, mr.Exists("a"))
	assert.False(t, mr.Exists("b"))
}

func TestIncrement(t *testing.T) {
	ctx := context.Background()
	tt, mr := newTestTier(t)

	n, err := tt.Increment(ctx, "n", 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	// first increment arms the TTL
	assert.Greater(t, mr.TTL("n"), time.Duration(0))

	before := mr.TTL("n")
	n, err = tt.Increment(ctx, "n", -2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	// NX: later increments do not re-arm it
	assert.LessOrEqual(t, mr.TTL("n"), before)
}

func TestIncrementWithoutTTL(t *testing.T) {
	ctx := context.Background()
	tt, mr := newTestTier(t)

	n, err := tt.Increment(ctx, "n", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, time.Duration(0), mr.TTL("n"))
}

func TestDownBackendIsUnavailable(t *testing.T) {
	ctx := context.Background()
	tt, mr := newTestTier(t)
	mr.Close()

	_, _, _, err := tt.Get(ctx, "k")
	assert.ErrorIs(t, err, tier.ErrUnavailable)

	err = tt.Set(ctx, "k", []byte("v"), 0)
	assert.ErrorIs(t, err, tier.ErrUnavailable)

	err = tt.Del(ctx, "k")
	assert.ErrorIs(t, err, tier.ErrUnavailable)

	_, err = tt.Contains(ctx, "k")
	assert.ErrorIs(t, err, tier.ErrUnavailable)

	_, err = tt.Increment(ctx, "n", 1, 0)
	assert.ErrorIs(t, err, tier.ErrUnavailable)
}

func TestCallerDeadlineRespected(t *testing.T) {
	tt, _ := newTestTier(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, _, err := tt.Get(ctx, "k")
	assert.ErrorIs(t, err, tier.ErrUnavailable)
}
