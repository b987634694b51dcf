package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBurstThenBlock(t *testing.T) {
	rl := newRateLimiter(3, time.Hour)

	for i := range 3 {
		throttled, err := rl.wait(context.Background())
		require.NoError(t, err, "token %d", i)
		assert.False(t, throttled, "token %d", i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	throttled, err := rl.wait(ctx)
	assert.True(t, throttled)
	assert.Error(t, err)
}

func TestRateLimiterWaitsForRefill(t *testing.T) {
	rl := newRateLimiter(2, 100*time.Millisecond)
	ctx := context.Background()

	for range 2 {
		_, err := rl.wait(ctx)
		require.NoError(t, err)
	}

	start := time.Now()
	throttled, err := rl.wait(ctx)
	require.NoError(t, err)
	assert.True(t, throttled)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRateLimiterWaitCanceled(t *testing.T) {
	rl := newRateLimiter(1, time.Hour)
	_, err := rl.wait(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rl.wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimiterInvalidSettings(t *testing.T) {
	rl := newRateLimiter(0, 0)

	throttled, err := rl.wait(context.Background())
	require.NoError(t, err)
	assert.False(t, throttled)
	assert.InDelta(t, 1.0, float64(rl.limiter.Limit()), 0.001)
}
