package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/models"
	"github.com/pushgate/webhooks/internal/observability"
	"github.com/pushgate/webhooks/internal/queue"
	"github.com/pushgate/webhooks/internal/signature"
)

// SenderConfig configures WebhookSender.
type SenderConfig struct {
	BatchingEnabled  bool
	BatchingDuration time.Duration
	Metrics          observability.WebhookMetrics
}

// WebhookSender turns realtime events into signed delivery jobs. Each Send method is a no-op
// when the app has no webhook for that event kind. With batching enabled, events are
// coalesced per queue category; otherwise every event becomes its own job.
type WebhookSender struct {
	queue   queue.Queue
	batcher *Batcher
	metrics observability.WebhookMetrics
	now     func() time.Time
}

// NewWebhookSender creates a sender that enqueues on q.
func NewWebhookSender(ctx context.Context, q queue.Queue, cfg SenderConfig) *WebhookSender {
	s := &WebhookSender{
		queue:   q,
		metrics: cfg.Metrics,
		now:     time.Now,
	}

	if cfg.BatchingEnabled {
		s.batcher = NewBatcher(ctx, cfg.BatchingDuration, s.flushBatch)
	}

	return s
}

// SendClientEvent notifies webhooks of a client event. socketID is included when set; userID
// only on presence channels.
func (s *WebhookSender) SendClientEvent(
	ctx context.Context, app *models.App, channel, event string, data json.RawMessage, socketID, userID string,
) error {
	if !app.HasClientEventWebhooks() {
		return nil
	}

	return s.send(ctx, app, models.NewClientEvent(channel, event, data, socketID, userID))
}

// SendMemberAdded notifies webhooks that userID joined a presence channel.
func (s *WebhookSender) SendMemberAdded(ctx context.Context, app *models.App, channel, userID string) error {
	if !app.HasMemberAddedWebhooks() {
		return nil
	}

	return s.send(ctx, app, models.NewMemberAdded(channel, userID))
}

// SendMemberRemoved notifies webhooks that userID left a presence channel.
func (s *WebhookSender) SendMemberRemoved(ctx context.Context, app *models.App, channel, userID string) error {
	if !app.HasMemberRemovedWebhooks() {
		return nil
	}

	return s.send(ctx, app, models.NewMemberRemoved(channel, userID))
}

// SendChannelVacated notifies webhooks that the last subscriber left channel.
func (s *WebhookSender) SendChannelVacated(ctx context.Context, app *models.App, channel string) error {
	if !app.HasChannelVacatedWebhooks() {
		return nil
	}

	return s.send(ctx, app, models.NewChannelVacated(channel))
}

// SendChannelOccupied notifies webhooks that channel got its first subscriber.
func (s *WebhookSender) SendChannelOccupied(ctx context.Context, app *models.App, channel string) error {
	if !app.HasChannelOccupiedWebhooks() {
		return nil
	}

	return s.send(ctx, app, models.NewChannelOccupied(channel))
}

// Dispatch routes an already built event to the matching Send method. It reports false when
// the app has no webhook for the event kind.
func (s *WebhookSender) Dispatch(ctx context.Context, app *models.App, e *models.Event) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}

	if !app.HasWebhooksFor(e.Name) {
		return false, nil
	}

	var err error

	switch e.Name {
	case datatypes.ClientEvent:
		err = s.SendClientEvent(ctx, app, e.Channel, e.Event, e.Data, e.SocketID, e.UserID)
	case datatypes.MemberAdded:
		err = s.SendMemberAdded(ctx, app, e.Channel, e.UserID)
	case datatypes.MemberRemoved:
		err = s.SendMemberRemoved(ctx, app, e.Channel, e.UserID)
	case datatypes.ChannelVacated:
		err = s.SendChannelVacated(ctx, app, e.Channel)
	case datatypes.ChannelOccupied:
		err = s.SendChannelOccupied(ctx, app, e.Channel)
	}

	return true, err
}

func (s *WebhookSender) send(ctx context.Context, app *models.App, e models.Event) error {
	category := e.Name.Queue()

	if s.batcher != nil {
		if err := s.batcher.Add(category, app, e); err != nil {
			return fmt.Errorf("batch %s: %w", category, err)
		}

		return nil
	}

	return s.sendImmediate(ctx, category, app, []models.Event{e})
}

// sendImmediate stamps, serializes and signs events as one payload and enqueues it. The
// serialized bytes travel in the job unchanged so the signature covers what is delivered.
func (s *WebhookSender) sendImmediate(ctx context.Context, category datatypes.QueueCategory, app *models.App, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	body, err := json.Marshal(models.NewPayload(s.now(), events))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	job := &models.DeliveryJob{
		AppKey:    app.Key,
		AppID:     app.ID,
		Payload:   body,
		Signature: signature.Sign(body, app.Secret),
	}

	if err := s.queue.Enqueue(ctx, category, job); err != nil {
		if s.metrics != nil {
			s.metrics.RecordEnqueueError(ctx, category.String())
		}

		slog.ErrorContext(ctx, "webhook enqueue failed",
			"queue", category,
			"app_id", app.ID,
			"events", len(events),
			"error", err,
		)

		return fmt.Errorf("enqueue %s: %w", category, err)
	}

	if s.metrics != nil {
		s.metrics.RecordJobsEnqueued(ctx, category.String(), 1)
	}

	return nil
}

func (s *WebhookSender) flushBatch(ctx context.Context, category datatypes.QueueCategory, app *models.App, events []models.Event) {
	if s.metrics != nil {
		s.metrics.RecordBatchFlushed(ctx, category.String(), len(events))
	}

	// Errors are logged in sendImmediate; nobody waits on a flush.
	_ = s.sendImmediate(ctx, category, app, events)
}

// Shutdown flushes open batch windows. Call before stopping the queue.
func (s *WebhookSender) Shutdown(ctx context.Context) error {
	if s.batcher == nil {
		return nil
	}

	return s.batcher.Stop(ctx)
}
