// Package workers consumes delivery jobs from the queue and fans them out to webhooks.
package workers

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pushgate/webhooks/internal/datatypes"
	apperrors "github.com/pushgate/webhooks/internal/errors"
	"github.com/pushgate/webhooks/internal/models"
	"github.com/pushgate/webhooks/internal/observability"
	"github.com/pushgate/webhooks/internal/queue"
	"github.com/pushgate/webhooks/internal/service"
	"github.com/pushgate/webhooks/internal/transport"
)

// DispatchConfig configures WebhookDispatchWorker.
type DispatchConfig struct {
	// ProcessID goes into the User-Agent of every delivery.
	ProcessID string
	// BatchingEnabled skips per-webhook filtering: a batch is signed once for all webhooks.
	BatchingEnabled bool
	Metrics         observability.WebhookMetrics
}

// WebhookDispatchWorker delivers one job to every eligible webhook of its app.
type WebhookDispatchWorker struct {
	apps      service.AppManager
	transport transport.Transport
	outcomes  transport.OutcomeHandler
	cfg       DispatchConfig
}

// NewWebhookDispatchWorker creates a worker. cfg.Metrics may be nil when metrics are disabled.
func NewWebhookDispatchWorker(
	apps service.AppManager, t transport.Transport, outcomes transport.OutcomeHandler, cfg DispatchConfig,
) *WebhookDispatchWorker {
	return &WebhookDispatchWorker{apps: apps, transport: t, outcomes: outcomes, cfg: cfg}
}

// Register installs the worker as the consumer of every queue category.
func (w *WebhookDispatchWorker) Register(q queue.Queue) {
	for _, category := range datatypes.AllQueueCategories() {
		q.Process(category, w.Handler(category))
	}
}

// Handler adapts the worker to a queue handler for category.
func (w *WebhookDispatchWorker) Handler(category datatypes.QueueCategory) queue.Handler {
	return func(ctx context.Context, job *models.DeliveryJob) error {
		return w.Work(ctx, category, job)
	}
}

// Work resolves the job's app, selects webhooks and delivers to all of them concurrently. It
// returns once every delivery settled. Unknown apps and undecodable payloads drop the job
// without an error; only registry failures are returned.
func (w *WebhookDispatchWorker) Work(ctx context.Context, category datatypes.QueueCategory, job *models.DeliveryJob) error {
	ctx = observability.WithAppKey(ctx, job.AppKey)

	ctx, span := observability.Tracer().Start(ctx, "webhook.dispatch", trace.WithAttributes(
		attribute.String("queue", category.String()),
		attribute.String("app_id", job.AppID),
	))
	defer span.End()

	app, err := w.apps.FindByKey(ctx, job.AppKey)
	if err != nil {
		if apperrors.IsNotFound(err) {
			w.recordDispatchError(ctx, "app_not_found")
			slog.WarnContext(ctx, "webhook dispatch: app not found, dropping job", "queue", category)

			return nil
		}

		w.recordDispatchError(ctx, "get_app_failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "get app failed")

		return err
	}

	webhooks, err := w.eligible(app, job)
	if err != nil {
		w.recordDispatchError(ctx, "decode_payload_failed")
		slog.ErrorContext(ctx, "webhook dispatch: decode payload failed, dropping job", "queue", category, "error", err)

		return nil
	}

	span.SetAttributes(attribute.Int("webhooks", len(webhooks)))

	var g errgroup.Group

	for _, wh := range webhooks {
		target, err := wh.Target()
		if err != nil {
			w.recordDispatchError(ctx, "invalid_target")
			slog.ErrorContext(ctx, "webhook dispatch: invalid webhook target", "queue", category, "error", err)

			continue
		}

		d := transport.Delivery{
			Target:  target,
			Payload: job.Payload,
			Headers: transport.BuildHeaders(job.AppKey, job.Signature, w.cfg.ProcessID, wh.Headers),
		}

		g.Go(func() error {
			w.outcomes.Handle(ctx, category.String(), w.transport.Deliver(ctx, d))

			return nil
		})
	}

	// Deliveries never return errors; outcomes were handled above.
	_ = g.Wait()

	return nil
}

// eligible returns the webhooks to deliver to. Filtering by event type and channel runs against
// the first event and only when batching is disabled.
func (w *WebhookDispatchWorker) eligible(app *models.App, job *models.DeliveryJob) ([]*models.WebhookConfig, error) {
	out := make([]*models.WebhookConfig, 0, len(app.Webhooks))

	if w.cfg.BatchingEnabled {
		if len(job.Payload) == 0 {
			return nil, models.ErrEmptyPayload
		}

		for i := range app.Webhooks {
			out = append(out, &app.Webhooks[i])
		}

		return out, nil
	}

	first, err := job.FirstEvent()
	if err != nil {
		return nil, err
	}

	for i := range app.Webhooks {
		if app.Webhooks[i].Matches(first) {
			out = append(out, &app.Webhooks[i])
		}
	}

	return out, nil
}

func (w *WebhookDispatchWorker) recordDispatchError(ctx context.Context, reason string) {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.RecordDispatchError(ctx, reason)
	}
}
