package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLocker(t *testing.T, opts RedisOptions) (*RedisLocker, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisLocker(client, opts, nil), mr
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	locker, mr := setupRedisLocker(t, RedisOptions{
		TTL:          time.Second,
		Timeout:      50 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	ctx := context.Background()

	r, err := locker.Lock(ctx, "asset-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:asset:asset-1"))

	_, err = locker.Lock(ctx, "asset-1")
	assert.ErrorIs(t, err, ErrTimeout)

	r.Release()
	r.Release()
	assert.False(t, mr.Exists("lock:asset:asset-1"))

	r2, err := locker.Lock(ctx, "asset-1")
	require.NoError(t, err)
	r2.Release()
}

func TestRedisLockerKeysIndependent(t *testing.T) {
	locker, _ := setupRedisLocker(t, RedisOptions{
		Timeout:      50 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	ctx := context.Background()

	a, err := locker.Lock(ctx, "asset-a")
	require.NoError(t, err)
	defer a.Release()

	b, err := locker.Lock(ctx, "asset-b")
	require.NoError(t, err)
	defer b.Release()
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	locker, _ := setupRedisLocker(t, RedisOptions{
		Timeout:      time.Second,
		PollInterval: 5 * time.Millisecond,
	})
	ctx := context.Background()

	first, err := locker.Lock(ctx, "asset-1")
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		first.Release()
	}()

	second, err := locker.Lock(ctx, "asset-1")
	require.NoError(t, err)
	assert.True(t, first.Released())
	second.Release()
}

func TestRedisLockerStaleReleaseKeepsNewHolder(t *testing.T) {
	locker, mr := setupRedisLocker(t, RedisOptions{
		TTL:          time.Second,
		Timeout:      50 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	ctx := context.Background()

	first, err := locker.Lock(ctx, "asset-1")
	require.NoError(t, err)

	// The first holder's key expires, e.g. after a long GC pause
	mr.FastForward(2 * time.Second)

	second, err := locker.Lock(ctx, "asset-1")
	require.NoError(t, err)

	first.Release()
	assert.True(t, mr.Exists("lock:asset:asset-1"), "stale release must not delete the new holder's key")

	second.Release()
	assert.False(t, mr.Exists("lock:asset:asset-1"))
}

func TestRedisLockerDefaults(t *testing.T) {
	locker := NewRedisLocker(nil, RedisOptions{}, nil)

	assert.Equal(t, "lock:asset:", locker.opts.Prefix)
	assert.Equal(t, 30*time.Second, locker.opts.TTL)
	assert.Equal(t, 100*time.Millisecond, locker.opts.PollInterval)
}
