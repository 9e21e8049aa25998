// Package handlers implements the HTTP ingress the realtime core reports channel events to.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pushgate/webhooks/internal/api/response"
	"github.com/pushgate/webhooks/internal/api/validation"
	"github.com/pushgate/webhooks/internal/datatypes"
	apperrors "github.com/pushgate/webhooks/internal/errors"
	"github.com/pushgate/webhooks/internal/models"
)

// AppFinder resolves the app named in the path.
type AppFinder interface {
	FindByID(ctx context.Context, id string) (*models.App, error)
}

// EventDispatcher turns a validated event into webhook jobs. It reports false when the app has
// no webhook for the event kind.
type EventDispatcher interface {
	Dispatch(ctx context.Context, app *models.App, e *models.Event) (bool, error)
}

// EventRequest is the body of POST /v1/apps/{appID}/events.
type EventRequest struct {
	Name     string          `json:"name"                validate:"required,event_type"`
	Channel  string          `json:"channel"             validate:"required,no_null_bytes,max=200"`
	Event    string          `json:"event,omitempty"     validate:"required_if=Name client_event,omitempty,no_null_bytes,max=200"`
	Data     json.RawMessage `json:"data,omitempty"`
	SocketID string          `json:"socket_id,omitempty" validate:"omitempty,no_null_bytes,max=64"`
	UserID   string          `json:"user_id,omitempty"   validate:"required_if=Name member_added,required_if=Name member_removed,omitempty,no_null_bytes,max=128"`
}

// EventsHandler accepts channel events for an app.
type EventsHandler struct {
	apps       AppFinder
	dispatcher EventDispatcher
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(apps AppFinder, dispatcher EventDispatcher) *EventsHandler {
	return &EventsHandler{apps: apps, dispatcher: dispatcher}
}

// Create handles POST /v1/apps/{appID}/events.
// 202 when jobs were produced, 204 when the app has no webhook for the event kind.
func (h *EventsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := chi.URLParam(r, "appID")

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.RespondBadRequest(w, "Invalid request body")

		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	event := req.toEvent()

	app, err := h.apps.FindByID(ctx, appID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			response.RespondNotFound(w, "App not found")

			return
		}

		slog.ErrorContext(ctx, "find app failed", "app_id", appID, "error", err)
		response.RespondServiceUnavailable(w, "App registry unavailable")

		return
	}

	dispatched, err := h.dispatcher.Dispatch(ctx, app, &event)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}

		slog.ErrorContext(ctx, "dispatch event failed", "app_id", appID, "event", event.Name, "error", err)
		response.RespondServiceUnavailable(w, "Webhook queue unavailable")

		return
	}

	if !dispatched {
		w.WriteHeader(http.StatusNoContent)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// toEvent builds the event through the kind's constructor so presence rules apply.
func (req *EventRequest) toEvent() models.Event {
	switch datatypes.EventKind(req.Name) {
	case datatypes.ClientEvent:
		return models.NewClientEvent(req.Channel, req.Event, req.Data, req.SocketID, req.UserID)
	case datatypes.MemberAdded:
		return models.NewMemberAdded(req.Channel, req.UserID)
	case datatypes.MemberRemoved:
		return models.NewMemberRemoved(req.Channel, req.UserID)
	case datatypes.ChannelVacated:
		return models.NewChannelVacated(req.Channel)
	case datatypes.ChannelOccupied:
		return models.NewChannelOccupied(req.Channel)
	default:
		return models.Event{Name: datatypes.EventKind(req.Name), Channel: req.Channel}
	}
}
