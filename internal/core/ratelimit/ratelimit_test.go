package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentmesh/gatekeeper/internal/kv"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, cfg Config) (*RateLimiter, *miniredis.Miniredis, *testClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := New(kv.NewRedisStore(client), cfg)
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	limiter.Clock = clock.Now
	return limiter, mr, clock
}

func limits(minute, hour, day int) Config {
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = minute
	cfg.RequestsPerHour = hour
	cfg.RequestsPerDay = day
	return cfg
}

func TestCheckMinuteWindow(t *testing.T) {
	limiter, _, clock := newTestLimiter(t, limits(3, 100, 1000))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, info := limiter.Check(ctx, "client-a", "")
		require.True(t, allowed)
		assert.Equal(t, WindowMinute, info.Window)
		assert.Equal(t, 3, info.Limit)
		assert.Equal(t, 2-i, info.Remaining)
	}

	allowed, info := limiter.Check(ctx, "client-a", "")
	require.False(t, allowed)
	assert.Equal(t, WindowMinute, info.Window)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, time.Minute, info.RetryAfter)
	assert.Equal(t, clock.Now().Add(time.Minute), info.Reset)

	clock.Advance(30 * time.Second)
	allowed, _ = limiter.Check(ctx, "client-a", "")
	assert.False(t, allowed)

	clock.Advance(31 * time.Second)
	allowed, _ = limiter.Check(ctx, "client-a", "")
	assert.True(t, allowed)
}

func TestCheckSurfacesHourWindow(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, limits(100, 2, 1000))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _ := limiter.Check(ctx, "client-a", "/api/items")
		require.True(t, allowed)
	}

	allowed, info := limiter.Check(ctx, "client-a", "/api/items")
	require.False(t, allowed)
	assert.Equal(t, WindowHour, info.Window)
	assert.Equal(t, time.Hour, info.RetryAfter)
}

func TestCheckSameInstantCountedSeparately(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, limits(2, 100, 1000))
	ctx := context.Background()

	allowed, _ := limiter.Check(ctx, "client-a", "")
	require.True(t, allowed)
	allowed, _ = limiter.Check(ctx, "client-a", "")
	require.True(t, allowed)
	allowed, _ = limiter.Check(ctx, "client-a", "")
	assert.False(t, allowed)
}

func TestCheckIsolation(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, limits(1, 100, 1000))
	ctx := context.Background()

	allowed, _ := limiter.Check(ctx, "client-a", "")
	require.True(t, allowed)
	allowed, _ = limiter.Check(ctx, "client-a", "")
	require.False(t, allowed)

	allowed, _ = limiter.Check(ctx, "client-b", "")
	assert.True(t, allowed)

	allowed, _ = limiter.Check(ctx, "client-a", "/api/other")
	assert.True(t, allowed)
}

func TestCheckFailsOpenWhenStoreDown(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t, limits(1, 1, 1))
	mr.Close()

	for i := 0; i < 5; i++ {
		allowed, info := limiter.Check(context.Background(), "client-a", "")
		require.True(t, allowed)
		assert.Equal(t, info.Limit, info.Remaining)
	}
}

type brokenStore struct {
	kv.Store
}

var errBroken = errors.New("connection refused")

func (brokenStore) ZRemRangeByScore(context.Context, string, float64, float64) (int64, error) {
	return 0, errBroken
}

func (brokenStore) ZAdd(context.Context, string, float64, string) error { return errBroken }

func TestCheckFailsOpenOnEveryCall(t *testing.T) {
	limiter, err := New(brokenStore{}, limits(1, 1, 1))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		allowed, _ := limiter.Check(context.Background(), "client-a", "")
		require.True(t, allowed)
	}
	require.Error(t, limiter.RecordRequest(context.Background(), "client-a", ""))
}

func TestRecordRequestTTLs(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t, limits(10, 100, 1000))
	ctx := context.Background()

	require.NoError(t, limiter.RecordRequest(ctx, "client-a", ""))

	assert.Equal(t, 120*time.Second, mr.TTL("rate_limit:client-a:global:60"))
	assert.Equal(t, 7200*time.Second, mr.TTL("rate_limit:client-a:global:3600"))
	assert.Equal(t, 172800*time.Second, mr.TTL("rate_limit:client-a:global:86400"))

	status, err := limiter.Status(ctx, "client-a", "")
	require.NoError(t, err)
	require.Len(t, status, 3)
	for _, s := range status {
		assert.Equal(t, 1, s.Count)
	}
}

func TestResetLimit(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t, limits(1, 100, 1000))
	ctx := context.Background()

	allowed, _ := limiter.Check(ctx, "client-a", "")
	require.True(t, allowed)
	allowed, _ = limiter.Check(ctx, "client-a", "")
	require.False(t, allowed)

	removed, err := limiter.ResetLimit(ctx, "client-a", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.False(t, mr.Exists("rate_limit:client-a:global:60"))

	allowed, _ = limiter.Check(ctx, "client-a", "")
	assert.True(t, allowed)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	require.ErrorIs(t, err, ErrInvalidConfig)

	mr := miniredis.RunT(t)
	store := kv.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	_, err = New(store, limits(0, 1, 1))
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg := DefaultConfig()
	cfg.KeyPrefix = ""
	_, err = New(store, cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
