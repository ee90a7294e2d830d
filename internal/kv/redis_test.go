package kv

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, WithScanBatchSize(2)), mr
}

func TestRedisStoreStringOps(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "greeting", "hello", time.Minute))
	value, err := store.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", value)
	assert.Equal(t, time.Minute, mr.TTL("greeting"))

	exists, err := store.Exists(ctx, "greeting")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Expire(ctx, "greeting", 10*time.Second))
	assert.Equal(t, 10*time.Second, mr.TTL("greeting"))

	n, err := store.Delete(ctx, "greeting", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Delete(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStoreSortedSetOps(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.ZAdd(ctx, "window", 10, "a"))
	require.NoError(t, store.ZAdd(ctx, "window", 20, "b"))
	require.NoError(t, store.ZAdd(ctx, "window", 30, "c"))

	count, err := store.ZCard(ctx, "window")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	inRange, err := store.ZCount(ctx, "window", 15, math.Inf(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), inRange)

	removed, err := store.ZRemRangeByScore(ctx, "window", math.Inf(-1), 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	members, err := store.ZRange(ctx, "window", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, members)
}

func TestRedisStoreDeletePattern(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	for _, key := range []string{"api:GET:/posts:a:b", "api:GET:/posts:c:d", "api:GET:/posts:e:f", "api:GET:/users:a:b"} {
		require.NoError(t, mr.Set(key, "{}"))
	}

	deleted, err := store.DeletePattern(ctx, "api:*:/posts:*")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.True(t, mr.Exists("api:GET:/users:a:b"))

	deleted, err = store.DeletePattern(ctx, "nothing:*")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestRedisStoreErrorsWhenServerDown(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	mr.Close()

	_, err := store.Get(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = store.Ping(ctx)
	require.ErrorIs(t, err, ErrHealthcheckFailed)
}

func TestConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyURL", func(t *testing.T) {
		_, err := Connect(ctx, Config{})
		require.ErrorIs(t, err, ErrEmptyConnectionURL)
	})

	t.Run("BadScheme", func(t *testing.T) {
		_, err := Connect(ctx, Config{URL: "http://localhost:6379"})
		require.ErrorIs(t, err, ErrFailedToParseConnString)
	})

	t.Run("Success", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := Connect(ctx, Config{URL: "redis://" + mr.Addr() + "/0", RetryAttempts: 1})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		require.NoError(t, Healthcheck(client)(ctx))
	})

	t.Run("NotReady", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, err := Connect(ctx, Config{
			URL:           "redis://" + addr + "/0",
			RetryAttempts: 2,
			RetryInterval: 10 * time.Millisecond,
		})
		require.ErrorIs(t, err, ErrNotReady)
	})
}

func TestNewClientDoesNotDial(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client, err := NewClient(Config{URL: "redis://" + addr + "/0"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.ErrorIs(t, Healthcheck(client)(context.Background()), ErrHealthcheckFailed)

	_, err = NewClient(Config{URL: "memcached://" + addr})
	require.ErrorIs(t, err, ErrFailedToParseConnString)
}
