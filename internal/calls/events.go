package calls

import (
	"context"
	"time"
)

// EventType names a committed lifecycle transition.
type EventType string

const (
	EventCallInitiated EventType = "call_initiated"
	EventCallRinging   EventType = "call_ringing"
	EventCallAccepted  EventType = "call_accepted"
	EventCallActive    EventType = "call_active"
	EventCallDeclined  EventType = "call_declined"
	EventCallEnded     EventType = "call_ended"
	EventCallTimeout   EventType = "call_timeout"
	EventCallFailed    EventType = "call_failed"
)

// Event describes exactly one committed state transition. Emitted after the
// store write commits, never before.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	CallID       string    `json:"call_id"`
	FromState    State     `json:"from_state,omitempty"`
	ToState      State     `json:"to_state"`
	Participants []string  `json:"participants"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher delivers lifecycle events to the event bus. Delivery is
// best-effort: an error never rolls back or blocks the committed
// transition, and retries belong to the bus, not to callers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
