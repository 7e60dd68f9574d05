// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newLimiters(t *testing.T, limit int, window time.Duration, clock *fakeClock) map[string]Limiter {
	t.Helper()

	mem := NewMemoryLimiter(limit, window)
	mem.now = clock.Now

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rl := NewRedisLimiter(client, "test:", limit, window)
	rl.now = clock.Now

	return map[string]Limiter{"memory": mem, "redis": rl}
}

func TestLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"memory", "redis"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
			l := newLimiters(t, 3, time.Minute, clock)[name]
			ctx := context.Background()

			for i := range 3 {
				ok, err := l.Allow(ctx, "k")
				require.NoError(t, err)
				assert.True(t, ok, "request %d", i)
				clock.Advance(10 * time.Second)
			}

			ok, err := l.Allow(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok, "fourth request within the window")

			other, err := l.Allow(ctx, "other")
			require.NoError(t, err)
			assert.True(t, other, "buckets are independent")

			// t=55s: the first hit only leaves the window at t=60s
			clock.Advance(25 * time.Second)
			ok, err = l.Allow(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)

			// after a quiet full window the bucket is empty again
			clock.Advance(61 * time.Second)
			ok, err = l.Allow(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestMemoryLimiter_Defaults(t *testing.T) {
	t.Parallel()

	l := NewMemoryLimiter(0, 0)
	assert.Equal(t, DefaultLimit, l.limit)
	assert.Equal(t, DefaultWindow, l.window)

	for range DefaultLimit {
		ok, err := l.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLimiter_SweepsIdleBuckets(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(0, 0)}
	l := NewMemoryLimiter(1, time.Second)
	l.now = clock.Now

	_, _ = l.Allow(context.Background(), "idle")
	clock.Advance(2 * time.Second)
	for i := 1; i < sweepEvery; i++ {
		_, _ = l.Allow(context.Background(), "busy")
	}
	_, ok := l.hits["idle"]
	assert.False(t, ok)
}

func TestBucketKey(t *testing.T) {
	t.Parallel()

	k := BucketKey("Bearer abc")
	assert.Len(t, k, 16)
	assert.Equal(t, k, BucketKey("Bearer abc"))
	assert.NotEqual(t, k, BucketKey("Bearer abd"))
	assert.NotContains(t, k, "abc")
}
