package server

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter throttles inbound frames of one connection. The bucket holds
// burst tokens and refills burst tokens per interval.
type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Every(interval/time.Duration(burst)), burst),
	}
}

// wait takes one token, blocking until the bucket refills if it is empty.
// throttled reports whether the caller had to wait. It fails only when ctx
// ends first.
func (rl *rateLimiter) wait(ctx context.Context) (throttled bool, err error) {
	if rl.limiter.Allow() {
		return false, nil
	}
	return true, rl.limiter.Wait(ctx)
}
