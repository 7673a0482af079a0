package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterImmediateBurst(t *testing.T) {
	rl := NewRateLimiter(5, 60.0)
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Wait(context.Background()), "burst token %d", i)
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRateLimiterWaitsAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 600.0) // 10 per second

	require.NoError(t, rl.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRateLimiterCancelledContext(t *testing.T) {
	rl := NewRateLimiter(1, 1.0)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rl.Wait(ctx))

	cancel()
	assert.Error(t, rl.Wait(ctx))
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, 10, rl.limiter.Burst())
	assert.InDelta(t, 0.5, float64(rl.limiter.Limit()), 1e-9)
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(2, 6000.0) // 100 per second
	ctx := context.Background()
	require.NoError(t, rl.Wait(ctx))
	require.NoError(t, rl.Wait(ctx))

	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	require.NoError(t, rl.Wait(ctx))
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}
