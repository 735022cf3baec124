package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*Limiter, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := New(rdb, nil)

	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return limiter, cleanup
}

func TestAllow_NilLimiter_FailsOpen(t *testing.T) {
	var l *Limiter
	allowed, retryAfter, err := l.Allow(context.Background(), "any", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, retryAfter)
}

func TestNew_NilRedisClient_FailsOpen(t *testing.T) {
	l := New(nil, nil)
	allowed, retryAfter, err := l.Allow(context.Background(), "jobboard:rec-1", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, retryAfter)
}

func TestAllow_NoBucketConfig_FailsOpen(t *testing.T) {
	l, cleanup := newTestLimiter(t)
	defer cleanup()

	allowed, retryAfter, err := l.Allow(context.Background(), "unregistered", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, retryAfter)
}

func TestAllow_RespectsCapacityAndRetryAfter(t *testing.T) {
	l, cleanup := newTestLimiter(t)
	defer cleanup()

	key := "jobboard:rec-1"
	l.SetBucketConfig(key, BucketConfig{Capacity: 3, RefillRate: 0.000001})

	for i := 0; i < 3; i++ {
		allowed, retryAfter, err := l.Allow(context.Background(), key, 1)
		require.NoError(t, err)
		assert.True(t, allowed, "call %d should be allowed", i)
		assert.Zero(t, retryAfter)
	}

	allowed, retryAfter, err := l.Allow(context.Background(), key, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Positive(t, retryAfter)
}

func TestAllow_SeparateKeysHaveIndependentBuckets(t *testing.T) {
	l, cleanup := newTestLimiter(t)
	defer cleanup()

	l.SetBucketConfig("jobboard:rec-1", BucketConfig{Capacity: 1, RefillRate: 0.000001})
	l.SetBucketConfig("jobboard:rec-2", BucketConfig{Capacity: 1, RefillRate: 0.000001})

	allowed, _, err := l.Allow(context.Background(), "jobboard:rec-1", 1)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = l.Allow(context.Background(), "jobboard:rec-1", 1)
	require.NoError(t, err)
	assert.False(t, allowed, "rec-1 bucket should be exhausted")

	allowed, _, err = l.Allow(context.Background(), "jobboard:rec-2", 1)
	require.NoError(t, err)
	assert.True(t, allowed, "rec-2 bucket is independent of rec-1")
}

func TestWait_ReturnsOnceCapacityRefills(t *testing.T) {
	l, cleanup := newTestLimiter(t)
	defer cleanup()

	key := "jobboard:rec-1"
	l.SetBucketConfig(key, BucketConfig{Capacity: 1, RefillRate: 1000})

	require.NoError(t, l.Wait(context.Background(), key, 1))
	require.NoError(t, l.Wait(context.Background(), key, 1))
}

func TestWait_RespectsContextCancellation(t *testing.T) {
	l, cleanup := newTestLimiter(t)
	defer cleanup()

	key := "jobboard:rec-1"
	l.SetBucketConfig(key, BucketConfig{Capacity: 1, RefillRate: 0.000001})
	require.NoError(t, l.Wait(context.Background(), key, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, key, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFromPerSecond(t *testing.T) {
	cfg := FromPerSecond(5)
	assert.Equal(t, int64(5), cfg.Capacity)
	assert.Equal(t, 5.0, cfg.RefillRate)

	assert.Zero(t, FromPerSecond(0))
	assert.Zero(t, FromPerSecond(-1))
}

func TestNewRedisClient_EmptyDSN(t *testing.T) {
	rdb, err := NewRedisClient("")
	require.NoError(t, err)
	assert.Nil(t, rdb)
}

func TestNewRedisClient_InvalidDSN(t *testing.T) {
	_, err := NewRedisClient("not-a-valid-dsn://::")
	assert.Error(t, err)
}
