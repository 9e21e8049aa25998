package transport

import (
	"context"
	"log/slog"

	"github.com/pushgate/webhooks/internal/observability"
)

// OutcomeHandler consumes delivery outcomes. It is the place for logging, metrics and any
// future retry scheduling.
type OutcomeHandler interface {
	Handle(ctx context.Context, queue string, outcome Outcome)
}

// LogOutcomeHandler logs outcomes when debug is enabled and always records metrics.
type LogOutcomeHandler struct {
	debug   bool
	metrics observability.WebhookMetrics
}

// NewLogOutcomeHandler creates an outcome handler. metrics may be nil.
func NewLogOutcomeHandler(debug bool, metrics observability.WebhookMetrics) *LogOutcomeHandler {
	return &LogOutcomeHandler{debug: debug, metrics: metrics}
}

// Handle implements OutcomeHandler.
func (h *LogOutcomeHandler) Handle(ctx context.Context, queue string, o Outcome) {
	kind := TargetKind(o.Target)

	if h.metrics != nil {
		h.metrics.RecordDelivery(ctx, queue, kind, o.Status.String())
		h.metrics.RecordDeliveryDuration(ctx, o.Duration, queue, kind, o.Status.String())
	}

	if !h.debug {
		return
	}

	target := "<none>"
	if o.Target != nil {
		target = o.Target.String()
	}

	attrs := []any{
		"queue", queue,
		"target", target,
		"status_code", o.StatusCode,
		"duration_ms", o.Duration.Milliseconds(),
	}

	switch {
	case kind == TargetKindLambda && o.Delivered():
		slog.DebugContext(ctx, "Lambda triggered", attrs...)
	case kind == TargetKindLambda:
		slog.DebugContext(ctx, "Lambda trigger failed", append(attrs, "error", o.Err)...)
	case o.Delivered():
		slog.DebugContext(ctx, "Webhook sent", attrs...)
	default:
		slog.DebugContext(ctx, "Webhook could not be sent", append(attrs, "error", o.Err)...)
	}
}

var _ OutcomeHandler = (*LogOutcomeHandler)(nil)
