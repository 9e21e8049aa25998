package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pushgate/webhooks/internal/api/validation"
	"github.com/pushgate/webhooks/internal/datatypes"
)

// Event validation errors.
var (
	ErrEventKindInvalid   = errors.New("invalid event name")
	ErrEventChannelEmpty  = errors.New("invalid channel")
	ErrEventNameEmpty     = errors.New("client event requires an event name")
	ErrEventUserIDMissing = errors.New("member event requires a user_id")
)

const presenceChannelPrefix = "presence-"

// IsPresenceChannel reports whether channel follows the presence naming convention.
func IsPresenceChannel(channel string) bool {
	return strings.HasPrefix(channel, presenceChannelPrefix)
}

// Event is one entry of a webhook payload's events array.
// Build it with the constructor for its kind; fields that do not apply to a kind stay empty.
type Event struct {
	Name     datatypes.EventKind `json:"name"                validate:"required,event_type"`
	Channel  string              `json:"channel"             validate:"required,no_null_bytes"`
	Event    string              `json:"event,omitempty"     validate:"required_if=Name client_event"`
	Data     json.RawMessage     `json:"data,omitempty"`
	SocketID string              `json:"socket_id,omitempty"`
	UserID   string              `json:"user_id,omitempty"   validate:"required_if=Name member_added,required_if=Name member_removed"`
	TimeMS   int64               `json:"time_ms,omitempty"`
}

// NewClientEvent builds a client_event. socketID is included when non-empty; userID only
// when non-empty and the channel is a presence channel.
func NewClientEvent(channel, event string, data json.RawMessage, socketID, userID string) Event {
	e := Event{
		Name:     datatypes.ClientEvent,
		Channel:  channel,
		Event:    event,
		Data:     data,
		SocketID: socketID,
	}

	if userID != "" && IsPresenceChannel(channel) {
		e.UserID = userID
	}

	return e
}

// NewMemberAdded builds a member_added event.
func NewMemberAdded(channel, userID string) Event {
	return Event{Name: datatypes.MemberAdded, Channel: channel, UserID: userID}
}

// NewMemberRemoved builds a member_removed event.
func NewMemberRemoved(channel, userID string) Event {
	return Event{Name: datatypes.MemberRemoved, Channel: channel, UserID: userID}
}

// NewChannelVacated builds a channel_vacated event.
func NewChannelVacated(channel string) Event {
	return Event{Name: datatypes.ChannelVacated, Channel: channel}
}

// NewChannelOccupied builds a channel_occupied event.
func NewChannelOccupied(channel string) Event {
	return Event{Name: datatypes.ChannelOccupied, Channel: channel}
}

// Validate checks the fields each kind requires. The returned error wraps one of the
// ErrEvent* sentinels and the field errors.
func (e *Event) Validate() error {
	err := validation.ValidateStruct(e)
	if err == nil {
		return nil
	}

	fields := validation.FieldErrors(err)
	if len(fields) == 0 {
		return err
	}

	switch fields[0].StructField() {
	case "Name":
		return fmt.Errorf("%w %q: %w", ErrEventKindInvalid, e.Name, err)
	case "Channel":
		return fmt.Errorf("%w: %w", ErrEventChannelEmpty, err)
	case "Event":
		return fmt.Errorf("%w: %w", ErrEventNameEmpty, err)
	case "UserID":
		return fmt.Errorf("%w: %w", ErrEventUserIDMissing, err)
	default:
		return err
	}
}

// Payload is the body delivered to every webhook: a creation timestamp and one or more events.
type Payload struct {
	TimeMS int64   `json:"time_ms"`
	Events []Event `json:"events"`
}

// NewPayload stamps events with now in epoch milliseconds.
func NewPayload(now time.Time, events []Event) Payload {
	return Payload{TimeMS: now.UnixMilli(), Events: events}
}
