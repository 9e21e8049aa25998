package queue

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/models"
	"github.com/pushgate/webhooks/internal/observability"
)

const (
	defaultInitialBackoffWhenZero = 100 * time.Millisecond
	backoffMultiplier             = 2
)

// RetryingConfig holds configuration for Retrying.
type RetryingConfig struct {
	MaxRetries     int           // Retries after the first attempt (total attempts = 1 + MaxRetries).
	InitialBackoff time.Duration // Backoff after first failure; doubles each attempt, capped by MaxBackoff.
	MaxBackoff     time.Duration
	Metrics        observability.WebhookMetrics
}

// Retrying wraps a Queue and retries Enqueue on backend errors with exponential backoff and
// jitter. Stop and missing-consumer errors are not retried. Consumption is passed through.
type Retrying struct {
	Queue

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	metrics        observability.WebhookMetrics
}

// NewRetrying returns inner with Enqueue retries.
func NewRetrying(inner Queue, cfg RetryingConfig) *Retrying {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoffWhenZero
	}

	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	return &Retrying{
		Queue:          inner,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		metrics:        cfg.Metrics,
	}
}

// Enqueue calls the inner queue, retrying up to maxRetries times. Respects ctx during backoff.
func (r *Retrying) Enqueue(ctx context.Context, category datatypes.QueueCategory, job *models.DeliveryJob) error {
	var lastErr error

	backoff := r.initialBackoff

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err := r.Queue.Enqueue(ctx, category, job)
		if err == nil {
			return nil
		}

		lastErr = err

		if errors.Is(err, ErrStopped) || errors.Is(err, ErrNoConsumer) || attempt == r.maxRetries {
			break
		}

		if r.metrics != nil {
			r.metrics.RecordEnqueueRetry(ctx)
		}

		sleep := jitter(backoff)
		slog.WarnContext(ctx, "webhook enqueue failed, retrying after backoff",
			"queue", category,
			"attempt", attempt+1,
			"max_attempts", r.maxRetries+1,
			"backoff", sleep,
			"error", err,
		)

		if err := sleepCtx(ctx, sleep); err != nil {
			return err
		}

		backoff = min(backoff*backoffMultiplier, r.maxBackoff)
	}

	return lastErr
}

// Depth forwards to the inner queue when it reports depth.
func (r *Retrying) Depth(ctx context.Context, category datatypes.QueueCategory) (int, error) {
	dr, ok := r.Queue.(DepthReporter)
	if !ok {
		return 0, fmt.Errorf("queue %T does not report depth", r.Queue)
	}

	return dr.Depth(ctx, category)
}

// jitter returns a duration between 50% and 100% of d.
func jitter(d time.Duration) time.Duration {
	const jitterHalf = 2

	half := d / jitterHalf
	if half <= 0 {
		return d
	}

	var buf [8]byte

	if _, err := rand.Read(buf[:]); err != nil {
		return half
	}

	//nolint:gosec // G115: modulo result is in [0, half), safe to convert to int64
	jitterNanos := int64(binary.BigEndian.Uint64(buf[:]) % uint64(half.Nanoseconds()))

	return half + time.Duration(jitterNanos)
}

// sleepCtx blocks for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

var _ Queue = (*Retrying)(nil)
