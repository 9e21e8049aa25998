package observability

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pushgate/webhooks/internal/datatypes"
)

// QueueMetrics records queue backend metrics.
type QueueMetrics interface {
	RecordJobProcessed(ctx context.Context, queue, status string)
	SetQueueDepth(queue string, depth int)
}

// queueMetrics implements QueueMetrics.
type queueMetrics struct {
	jobsProcessed metric.Int64Counter
	depths        map[string]*atomic.Int64
	depthGauge    metric.Int64ObservableGauge
}

// NewQueueMetrics creates QueueMetrics and registers the depth gauge. Returns (nil, nil) when meter is nil.
func NewQueueMetrics(meter metric.Meter) (QueueMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	jobsProcessed, err := meter.Int64Counter(
		MetricNameQueueJobsProcessed,
		metric.WithDescription("Total jobs handled by queue consumers by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create queue jobs processed counter: %w", err)
	}

	qm := &queueMetrics{
		jobsProcessed: jobsProcessed,
		depths:        make(map[string]*atomic.Int64),
	}

	for _, c := range datatypes.AllQueueCategories() {
		qm.depths[c.String()] = &atomic.Int64{}
	}

	depthGauge, err := meter.Int64ObservableGauge(
		MetricNameQueueDepth,
		metric.WithDescription("Jobs waiting per queue (as reported by the backend)"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for name, depth := range qm.depths {
				o.Observe(depth.Load(), metric.WithAttributes(attribute.String(AttrQueue, name)))
			}

			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create queue depth gauge: %w", err)
	}

	qm.depthGauge = depthGauge

	return qm, nil
}

func (q *queueMetrics) RecordJobProcessed(ctx context.Context, queue, status string) {
	q.jobsProcessed.Add(ctx, 1, metric.WithAttributes(
		attrQueue(queue),
		attribute.String(AttrStatus, NormalizeReason(status, AllowedJobStatuses)),
	))
}

func (q *queueMetrics) SetQueueDepth(queue string, depth int) {
	if d, ok := q.depths[queue]; ok {
		d.Store(int64(depth))
	}
}
