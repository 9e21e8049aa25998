package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// WebhookMetrics records webhook pipeline metrics (sender, batcher, dispatch worker, transports).
type WebhookMetrics interface {
	RecordJobsEnqueued(ctx context.Context, queue string, count int64)
	RecordEnqueueError(ctx context.Context, queue string)
	RecordEnqueueRetry(ctx context.Context)
	RecordBatchFlushed(ctx context.Context, queue string, size int)
	RecordDispatchError(ctx context.Context, reason string)
	RecordDelivery(ctx context.Context, queue, target, status string)
	RecordDeliveryDuration(ctx context.Context, duration time.Duration, queue, target, status string)
}

// webhookMetrics implements WebhookMetrics.
type webhookMetrics struct {
	jobsEnqueued     metric.Int64Counter
	enqueueErrors    metric.Int64Counter
	enqueueRetries   metric.Int64Counter
	batchSize        metric.Int64Histogram
	dispatchErrors   metric.Int64Counter
	deliveries       metric.Int64Counter
	deliveryDuration metric.Float64Histogram
}

// NewWebhookMetrics creates WebhookMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewWebhookMetrics(meter metric.Meter) (WebhookMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	jobsEnqueued, err := meter.Int64Counter(
		MetricNameWebhookJobsEnqueued,
		metric.WithDescription("Total delivery jobs enqueued per queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("create webhook jobs enqueued counter: %w", err)
	}

	enqueueErrors, err := meter.Int64Counter(
		MetricNameWebhookEnqueueErrors,
		metric.WithDescription("Total delivery jobs that could not be enqueued"),
	)
	if err != nil {
		return nil, fmt.Errorf("create webhook enqueue errors counter: %w", err)
	}

	enqueueRetries, err := meter.Int64Counter(
		MetricNameWebhookEnqueueRetries,
		metric.WithDescription("Total enqueue attempts retried after a backend error"),
	)
	if err != nil {
		return nil, fmt.Errorf("create webhook enqueue retries counter: %w", err)
	}

	batchSize, err := meter.Int64Histogram(
		MetricNameWebhookBatchSize,
		metric.WithDescription("Events per flushed batch"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		return nil, fmt.Errorf("create webhook batch size histogram: %w", err)
	}

	dispatchErrors, err := meter.Int64Counter(
		MetricNameWebhookDispatchErrors,
		metric.WithDescription("Total jobs dropped by the dispatch worker (app not found, bad payload)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create webhook dispatch errors counter: %w", err)
	}

	deliveries, err := meter.Int64Counter(
		MetricNameWebhookDeliveries,
		metric.WithDescription("Total webhook delivery outcomes by target and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create webhook deliveries counter: %w", err)
	}

	deliveryDuration, err := meter.Float64Histogram(
		MetricNameWebhookDeliveryDuration,
		metric.WithDescription("Webhook delivery duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create webhook delivery duration histogram: %w", err)
	}

	return &webhookMetrics{
		jobsEnqueued:     jobsEnqueued,
		enqueueErrors:    enqueueErrors,
		enqueueRetries:   enqueueRetries,
		batchSize:        batchSize,
		dispatchErrors:   dispatchErrors,
		deliveries:       deliveries,
		deliveryDuration: deliveryDuration,
	}, nil
}

func attrQueue(v string) attribute.KeyValue {
	return attribute.String(AttrQueue, NormalizeQueue(v))
}

func deliveryAttrs(queue, target, status string) metric.MeasurementOption {
	return metric.WithAttributes(
		attrQueue(queue),
		attribute.String(AttrTarget, NormalizeReason(target, AllowedTargets)),
		attribute.String(AttrStatus, NormalizeReason(status, AllowedDeliveryStatuses)),
	)
}

func (wm *webhookMetrics) RecordJobsEnqueued(ctx context.Context, queue string, count int64) {
	wm.jobsEnqueued.Add(ctx, count, metric.WithAttributes(attrQueue(queue)))
}

func (wm *webhookMetrics) RecordEnqueueError(ctx context.Context, queue string) {
	wm.enqueueErrors.Add(ctx, 1, metric.WithAttributes(attrQueue(queue)))
}

func (wm *webhookMetrics) RecordEnqueueRetry(ctx context.Context) {
	wm.enqueueRetries.Add(ctx, 1)
}

func (wm *webhookMetrics) RecordBatchFlushed(ctx context.Context, queue string, size int) {
	wm.batchSize.Record(ctx, int64(size), metric.WithAttributes(attrQueue(queue)))
}

func (wm *webhookMetrics) RecordDispatchError(ctx context.Context, reason string) {
	reason = NormalizeReason(reason, AllowedDispatchReasons)
	wm.dispatchErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReason, reason)))
}

func (wm *webhookMetrics) RecordDelivery(ctx context.Context, queue, target, status string) {
	wm.deliveries.Add(ctx, 1, deliveryAttrs(queue, target, status))
}

func (wm *webhookMetrics) RecordDeliveryDuration(ctx context.Context, duration time.Duration, queue, target, status string) {
	wm.deliveryDuration.Record(ctx, duration.Seconds(), deliveryAttrs(queue, target, status))
}
