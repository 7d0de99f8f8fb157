package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(rate.Every(time.Hour), 3)

	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "request %d should be allowed", i+1)
	}
	assert.False(t, tb.Allow(), "burst exhausted")

	tb.Reset()
	assert.True(t, tb.Allow(), "reset refills the bucket")
}

func TestTokenBucketWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(rate.Every(time.Hour), 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, tb.Wait(ctx))
}

func TestNewPerMinute(t *testing.T) {
	tb := NewPerMinute(30, 2)
	assert.Equal(t, 2*time.Second, tb.RetryAfter())

	unlimited := NewPerMinute(0, 0)
	for i := 0; i < 1000; i++ {
		require.True(t, unlimited.Allow())
	}
	assert.Equal(t, time.Duration(0), unlimited.RetryAfter())
	assert.NoError(t, unlimited.Wait(context.Background()))
}

func TestKeyed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	k := NewKeyed(1, 1, time.Minute)
	k.now = func() time.Time { return now }

	a := k.Get("10.0.0.1")
	assert.Same(t, a, k.Get("10.0.0.1"))
	assert.True(t, a.Allow())
	assert.False(t, a.Allow())
	assert.True(t, k.Get("10.0.0.2").Allow(), "keys are independent")
	assert.Equal(t, 2, k.Len())

	now = now.Add(2 * time.Minute)
	k.Get("10.0.0.2")
	assert.Equal(t, 1, k.Sweep())
	assert.Equal(t, 1, k.Len())
}
