package transport

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited caps how many deliveries per second the wrapped transport starts.
type RateLimited struct {
	inner   Transport
	limiter *rate.Limiter
}

// NewRateLimited wraps inner. perSecond <= 0 returns inner unchanged.
func NewRateLimited(inner Transport, perSecond int) Transport {
	if perSecond <= 0 {
		return inner
	}

	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond)}
}

// Deliver waits for a token, then delivers. Cancellation while waiting is a failed outcome.
func (r *RateLimited) Deliver(ctx context.Context, d Delivery) Outcome {
	started := time.Now()

	if err := r.limiter.Wait(ctx); err != nil {
		return failed(d.Target, 0, started, fmt.Errorf("rate limit wait: %w", err))
	}

	return r.inner.Deliver(ctx, d)
}
