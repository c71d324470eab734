package service

import (
	"context"
	"eduflex_backend/internal/util"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerBusy(t *testing.T) {
	l := NewAttemptLocker(nil)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "attempt:1:1", time.Second, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = l.Lock(ctx, "attempt:1:1", time.Second, 50*time.Millisecond)
	assert.True(t, errors.Is(err, util.ErrBusy))

	// other keys are independent
	other, err := l.Lock(ctx, "attempt:1:2", time.Second, 50*time.Millisecond)
	require.NoError(t, err)
	other()

	unlock()
	unlock() // idempotent

	again, err := l.Lock(ctx, "attempt:1:1", time.Second, 50*time.Millisecond)
	require.NoError(t, err)
	again()

	assert.Empty(t, l.(*localLocker).locks, "released keys are dropped")
}

func TestLocalLockerWaitsForRelease(t *testing.T) {
	l := NewAttemptLocker(nil)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k", time.Second, time.Second)
	require.NoError(t, err)
	go func() {
		time.Sleep(30 * time.Millisecond)
		unlock()
	}()

	next, err := l.Lock(ctx, "k", time.Second, time.Second)
	require.NoError(t, err)
	next()
}

func TestLocalLockerContextCancel(t *testing.T) {
	l := NewAttemptLocker(nil)
	unlock, err := l.Lock(context.Background(), "k", time.Second, time.Second)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "k", time.Second, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, errors.Is(err, util.ErrBusy), "a cancelled wait surfaces as BUSY, not an internal error")
	assert.Equal(t, "BUSY", util.CodeOf(err))
}

func TestCacheStamp(t *testing.T) {
	assert.Equal(t, "0.0", CacheStamp(0, 0))
	assert.NotEqual(t, CacheStamp(3, 10), CacheStamp(3, 11), "a new attempt changes the stamp without a version bump")
}

func TestLocalKnowledgeCacheVersions(t *testing.T) {
	c := NewKnowledgeCache(nil)
	ctx := context.Background()

	v, err := c.Version(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, c.Invalidate(ctx, 1))
	v, _ = c.Version(ctx, 1)
	assert.Equal(t, int64(1), v)

	other, _ := c.Version(ctx, 2)
	assert.Zero(t, other)

	c.Set(ctx, 1, CacheStamp(v, 7), scopeModule, 3, 42, time.Minute)
	_, ok := c.Get(ctx, 1, CacheStamp(v, 7), scopeModule, 3)
	assert.False(t, ok, "the in-process fallback never serves values")
}
