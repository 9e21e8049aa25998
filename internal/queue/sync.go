package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/models"
	"github.com/pushgate/webhooks/internal/observability"
)

const defaultSyncBufferSize = 1024

// SyncQueue is the in-process driver: a buffered channel per category drained by a fixed
// number of worker goroutines.
type SyncQueue struct {
	concurrency int
	bufferSize  int
	metrics     observability.QueueMetrics

	mu       sync.RWMutex
	handlers map[datatypes.QueueCategory]Handler
	chans    map[datatypes.QueueCategory]chan *models.DeliveryJob
	started  bool
	stopped  bool

	wg sync.WaitGroup
}

// NewSyncQueue creates an in-process queue. metrics may be nil.
func NewSyncQueue(concurrency, bufferSize int, metrics observability.QueueMetrics) *SyncQueue {
	if concurrency <= 0 {
		concurrency = 1
	}

	if bufferSize <= 0 {
		bufferSize = defaultSyncBufferSize
	}

	return &SyncQueue{
		concurrency: concurrency,
		bufferSize:  bufferSize,
		metrics:     metrics,
		handlers:    make(map[datatypes.QueueCategory]Handler),
		chans:       make(map[datatypes.QueueCategory]chan *models.DeliveryJob),
	}
}

// Process registers handler for category.
func (q *SyncQueue) Process(category datatypes.QueueCategory, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[category] = handler
	if _, ok := q.chans[category]; !ok {
		q.chans[category] = make(chan *models.DeliveryJob, q.bufferSize)
	}
}

// Enqueue hands job to the category's workers. It blocks while the buffer is full.
// Without a registered consumer there is nobody to drain the job, so ErrNoConsumer is returned.
func (q *SyncQueue) Enqueue(ctx context.Context, category datatypes.QueueCategory, job *models.DeliveryJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		return ErrStopped
	}

	ch, ok := q.chans[category]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoConsumer, category)
	}

	select {
	case ch <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", category, ctx.Err())
	}
}

// Start launches the workers. Handlers run with a context detached from ctx's cancellation
// so Stop can drain in-flight jobs.
func (q *SyncQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return ErrAlreadyActive
	}

	q.started = true
	workerCtx := context.WithoutCancel(ctx)

	for category, ch := range q.chans {
		handler := q.handlers[category]
		for range q.concurrency {
			q.wg.Add(1)

			go q.work(workerCtx, category, ch, handler)
		}
	}

	return nil
}

func (q *SyncQueue) work(ctx context.Context, category datatypes.QueueCategory, ch <-chan *models.DeliveryJob, handler Handler) {
	defer q.wg.Done()

	for job := range ch {
		status := "ok"
		if err := handler(ctx, job); err != nil {
			status = "error"

			slog.ErrorContext(ctx, "queue job failed", "queue", category, "app_key", job.AppKey, "error", err)
		}

		if q.metrics != nil {
			q.metrics.RecordJobProcessed(ctx, category.String(), status)
		}
	}
}

// Stop closes every channel and waits until the workers drained them or ctx is done.
func (q *SyncQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()

		return nil
	}

	q.stopped = true
	for _, ch := range q.chans {
		close(ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})

	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sync queue stop: %w", ctx.Err())
	}
}

// Depth returns the number of buffered jobs for category.
func (q *SyncQueue) Depth(_ context.Context, category datatypes.QueueCategory) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return len(q.chans[category]), nil
}

var (
	_ Queue         = (*SyncQueue)(nil)
	_ DepthReporter = (*SyncQueue)(nil)
)
