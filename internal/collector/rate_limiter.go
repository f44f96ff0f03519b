package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces calls against the Azure DevOps REST API
type RateLimiter interface {
	// Wait blocks until the next call may be made
	Wait(ctx context.Context) error

	// Pause holds back every call until d has elapsed, as requested by a Retry-After header
	Pause(d time.Duration)
}

// devopsRateLimiter implements RateLimiter with a token bucket plus a pause window
type devopsRateLimiter struct {
	limiter *rate.Limiter
	logger  *slog.Logger

	mu          sync.Mutex
	pausedUntil time.Time
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond calls on average
func NewRateLimiter(requestsPerSecond float64, logger *slog.Logger) RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &devopsRateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		logger:  logger,
	}
}

// Wait waits until it's safe to make another API call
func (r *devopsRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	wait := time.Until(r.pausedUntil)
	r.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return r.limiter.Wait(ctx)
}

// Pause extends the pause window; a shorter request never shortens an active pause
func (r *devopsRateLimiter) Pause(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(r.pausedUntil) {
		r.pausedUntil = until
		r.logger.Warn("rate limited by Azure DevOps, pausing requests", "retry_after", d.Round(time.Second))
	}
}
