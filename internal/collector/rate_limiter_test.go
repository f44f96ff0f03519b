package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_WaitHonoursPause(t *testing.T) {
	limiter := NewRateLimiter(1000, nil)
	limiter.Pause(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestRateLimiter_ShorterPauseDoesNotShorten(t *testing.T) {
	limiter := NewRateLimiter(1000, nil).(*devopsRateLimiter)
	limiter.Pause(time.Hour)
	until := limiter.pausedUntil

	limiter.Pause(time.Second)
	assert.Equal(t, until, limiter.pausedUntil)
}

func TestRateLimiter_WaitCancelled(t *testing.T) {
	limiter := NewRateLimiter(1000, nil)
	limiter.Pause(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
