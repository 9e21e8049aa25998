// Package observability provides OpenTelemetry metrics and tracing for the webhook dispatcher.
package observability

import (
	"github.com/pushgate/webhooks/internal/datatypes"
)

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameWebhookJobsEnqueued     = "pushgate_webhook_jobs_enqueued_total"
	MetricNameWebhookEnqueueErrors    = "pushgate_webhook_enqueue_errors_total"
	MetricNameWebhookEnqueueRetries   = "pushgate_webhook_enqueue_retries_total"
	MetricNameWebhookBatchSize        = "pushgate_webhook_batch_size"
	MetricNameWebhookDispatchErrors   = "pushgate_webhook_dispatch_errors_total"
	MetricNameWebhookDeliveries       = "pushgate_webhook_deliveries_total"
	MetricNameWebhookDeliveryDuration = "pushgate_webhook_delivery_duration_seconds"
	MetricNameQueueDepth              = "pushgate_queue_depth"
	MetricNameQueueJobsProcessed      = "pushgate_queue_jobs_processed_total"
	MetricNameCacheHits               = "pushgate_cache_hits_total"
	MetricNameCacheMisses             = "pushgate_cache_misses_total"
	MetricNameHTTPRequests            = "pushgate_http_requests_total"
	MetricNameHTTPRequestDuration     = "pushgate_http_request_duration_seconds"
	MetricNameRequestBodyTooLarge     = "pushgate_http_request_body_too_large_total"
)

// Attribute keys.
const (
	AttrQueue  = "queue"
	AttrReason = "reason"
	AttrStatus = "status"
	AttrTarget = "target"
)

// AllowedDeliveryStatuses for pushgate_webhook_deliveries_total and the duration histogram.
var AllowedDeliveryStatuses = map[string]bool{
	"delivered": true,
	"failed":    true,
}

// AllowedTargets are the delivery transports.
var AllowedTargets = map[string]bool{
	"http":   true,
	"lambda": true,
}

// AllowedDispatchReasons for pushgate_webhook_dispatch_errors_total.
var AllowedDispatchReasons = map[string]bool{
	"app_not_found":         true,
	"get_app_failed":        true,
	"decode_payload_failed": true,
	"invalid_target":        true,
}

// AllowedJobStatuses for pushgate_queue_jobs_processed_total.
var AllowedJobStatuses = map[string]bool{
	"ok":    true,
	"error": true,
}

// AllowedCacheNames for cache hit/miss counters.
var AllowedCacheNames = map[string]bool{
	"app_by_key": true,
	"app_by_id":  true,
}

// NormalizeQueue returns queue if it is a known category, otherwise "unknown".
func NormalizeQueue(queue string) string {
	if datatypes.QueueCategory(queue).Valid() {
		return queue
	}

	return "unknown"
}

// NormalizeReason returns reason if in allowed, otherwise "other".
func NormalizeReason(reason string, allowed map[string]bool) string {
	if allowed[reason] {
		return reason
	}

	return "other"
}

// NormalizeCacheName returns name if known, otherwise "other".
func NormalizeCacheName(name string) string {
	return NormalizeReason(name, AllowedCacheNames)
}
