package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/models"
)

type flakyQueue struct {
	callCount int
	failUntil int // Enqueue fails until callCount reaches this; then succeeds.
	err       error
}

func (f *flakyQueue) Enqueue(_ context.Context, _ datatypes.QueueCategory, _ *models.DeliveryJob) error {
	f.callCount++
	if f.callCount < f.failUntil {
		if f.err != nil {
			return f.err
		}

		return errors.New("transient error")
	}

	return nil
}

func (f *flakyQueue) Process(datatypes.QueueCategory, Handler) {}
func (f *flakyQueue) Start(context.Context) error              { return nil }
func (f *flakyQueue) Stop(context.Context) error               { return nil }

func TestRetrying_success_after_retries(t *testing.T) {
	inner := &flakyQueue{failUntil: 3}
	r := NewRetrying(inner, RetryingConfig{MaxRetries: 5, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond})

	if err := r.Enqueue(context.Background(), datatypes.ClientEventQueue, &models.DeliveryJob{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if inner.callCount != 3 {
		t.Errorf("inner called %d times, want 3 (2 failures + 1 success)", inner.callCount)
	}
}

func TestRetrying_exhausted_retries(t *testing.T) {
	inner := &flakyQueue{failUntil: 99}
	r := NewRetrying(inner, RetryingConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})

	if err := r.Enqueue(context.Background(), datatypes.ClientEventQueue, &models.DeliveryJob{}); err == nil {
		t.Fatal("expected error after exhausted retries")
	}

	if inner.callCount != 3 {
		t.Errorf("inner called %d times, want 3 (1 initial + 2 retries)", inner.callCount)
	}
}

func TestRetrying_does_not_retry_permanent_errors(t *testing.T) {
	for _, permanent := range []error{ErrStopped, ErrNoConsumer} {
		inner := &flakyQueue{failUntil: 99, err: permanent}
		r := NewRetrying(inner, RetryingConfig{MaxRetries: 5, InitialBackoff: time.Millisecond})

		err := r.Enqueue(context.Background(), datatypes.ClientEventQueue, &models.DeliveryJob{})
		if !errors.Is(err, permanent) {
			t.Errorf("err = %v, want %v", err, permanent)
		}

		if inner.callCount != 1 {
			t.Errorf("inner called %d times for %v, want 1", inner.callCount, permanent)
		}
	}
}

func TestRetrying_context_cancelled_during_backoff(t *testing.T) {
	inner := &flakyQueue{failUntil: 99}
	r := NewRetrying(inner, RetryingConfig{MaxRetries: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Enqueue(ctx, datatypes.ClientEventQueue, &models.DeliveryJob{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestJitter_bounds(t *testing.T) {
	d := 100 * time.Millisecond
	for range 50 {
		got := jitter(d)
		if got < d/2 || got > d {
			t.Fatalf("jitter(%v) = %v, want in [%v, %v]", d, got, d/2, d)
		}
	}
}
