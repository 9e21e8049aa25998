package riverqueue

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/observability"
	"github.com/pushgate/webhooks/internal/queue"
)

// DeliveryWorker hands River jobs to the handler registered for their category.
type DeliveryWorker struct {
	river.WorkerDefaults[DeliveryJobArgs]

	handlers map[datatypes.QueueCategory]queue.Handler
	metrics  observability.QueueMetrics
}

// NewDeliveryWorker creates a worker for the given handlers. metrics may be nil.
func NewDeliveryWorker(handlers map[datatypes.QueueCategory]queue.Handler, metrics observability.QueueMetrics) *DeliveryWorker {
	return &DeliveryWorker{handlers: handlers, metrics: metrics}
}

// Work runs the category handler. A returned error discards the job (MaxAttempts is 1) and is
// logged by ErrorHandler.
func (w *DeliveryWorker) Work(ctx context.Context, job *river.Job[DeliveryJobArgs]) error {
	handler, ok := w.handlers[job.Args.Category]
	if !ok {
		return fmt.Errorf("%w: %s", queue.ErrNoConsumer, job.Args.Category)
	}

	err := handler(ctx, job.Args.DeliveryJob())

	if w.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}

		w.metrics.RecordJobProcessed(ctx, job.Args.Category.String(), status)
	}

	return err
}
