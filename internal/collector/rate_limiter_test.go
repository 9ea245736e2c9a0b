package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBackoffDelaysWait(t *testing.T) {
	rl := NewRateLimiter(0)
	rl.Backoff(60 * time.Millisecond)

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(0)
	rl.Backoff(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)
}

func TestRateLimiterShorterBackoffDoesNotShrinkCooldown(t *testing.T) {
	rl := NewRateLimiter(0).(*backendRateLimiter)
	rl.Backoff(time.Minute)
	until := rl.cooldownUntil

	rl.Backoff(time.Millisecond)
	assert.Equal(t, until, rl.cooldownUntil)
}
