package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every metric collector. When metrics are disabled the whole struct is nil;
// components receive the field interfaces and already handle nil.
type Metrics struct {
	Webhooks WebhookMetrics
	Queue    QueueMetrics
	Cache    CacheMetrics
	API      APIMetrics
}

// NewMetrics creates all collectors from the given meter.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	webhooks, err := NewWebhookMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("webhook metrics: %w", err)
	}

	queue, err := NewQueueMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("queue metrics: %w", err)
	}

	cache, err := NewCacheMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("cache metrics: %w", err)
	}

	api, err := NewAPIMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("api metrics: %w", err)
	}

	return &Metrics{
		Webhooks: webhooks,
		Queue:    queue,
		Cache:    cache,
		API:      api,
	}, nil
}
