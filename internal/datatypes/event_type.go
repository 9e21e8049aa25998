// Package datatypes defines the closed sets shared across the webhook pipeline:
// webhook event kinds and the queue categories they are dispatched on.
package datatypes

import "errors"

// Event type validation errors.
var (
	ErrInvalidEventType   = errors.New("invalid event type")
	ErrDuplicateEventType = errors.New("duplicate event type")
)

// EventKind is a webhook event name as sent in the payload's events array.
type EventKind string

// Webhook event kinds (Pusher webhook names).
const (
	ClientEvent     EventKind = "client_event"
	MemberAdded     EventKind = "member_added"
	MemberRemoved   EventKind = "member_removed"
	ChannelVacated  EventKind = "channel_vacated"
	ChannelOccupied EventKind = "channel_occupied"
)

// QueueCategory names the queue a delivery job is produced on. One per event kind.
type QueueCategory string

// Queue categories.
const (
	ClientEventQueue     QueueCategory = "client_event_webhooks"
	MemberAddedQueue     QueueCategory = "member_added_webhooks"
	MemberRemovedQueue   QueueCategory = "member_removed_webhooks"
	ChannelVacatedQueue  QueueCategory = "channel_vacated_webhooks"
	ChannelOccupiedQueue QueueCategory = "channel_occupied_webhooks"
)

// eventKindQueues maps every valid event kind to its queue category.
// This is the single source of truth for valid event kind strings.
var eventKindQueues = map[EventKind]QueueCategory{
	ClientEvent:     ClientEventQueue,
	MemberAdded:     MemberAddedQueue,
	MemberRemoved:   MemberRemovedQueue,
	ChannelVacated:  ChannelVacatedQueue,
	ChannelOccupied: ChannelOccupiedQueue,
}

// orderedKinds fixes iteration order for callers that need a stable listing.
var orderedKinds = []EventKind{ClientEvent, MemberAdded, MemberRemoved, ChannelVacated, ChannelOccupied}

// String returns the wire form of the event kind.
func (k EventKind) String() string {
	return string(k)
}

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	_, ok := eventKindQueues[k]

	return ok
}

// Queue returns the queue category for k, or "" for unknown kinds.
func (k EventKind) Queue() QueueCategory {
	return eventKindQueues[k]
}

// String returns the queue name.
func (q QueueCategory) String() string {
	return string(q)
}

// Valid reports whether q is one of the five queue categories.
func (q QueueCategory) Valid() bool {
	for _, c := range eventKindQueues {
		if c == q {
			return true
		}
	}

	return false
}

// ParseEventKind converts a string to an EventKind.
// Returns the kind and true if valid, or "" and false if invalid.
func ParseEventKind(s string) (EventKind, bool) {
	k := EventKind(s)
	if !k.Valid() {
		return "", false
	}

	return k, true
}

// AllEventKinds returns every event kind in a stable order.
func AllEventKinds() []EventKind {
	out := make([]EventKind, len(orderedKinds))
	copy(out, orderedKinds)

	return out
}

// AllQueueCategories returns every queue category in the same order as AllEventKinds.
func AllQueueCategories() []QueueCategory {
	out := make([]QueueCategory, 0, len(orderedKinds))
	for _, k := range orderedKinds {
		out = append(out, k.Queue())
	}

	return out
}
