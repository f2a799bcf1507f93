package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names the payload carried by an Event.
type EventType string

const (
	EventStateTransition EventType = "state_transition"
	EventSignal          EventType = "signal"
	EventRecovery        EventType = "recovery"
	EventFilterRejected  EventType = "filter_rejected"
)

// Event is the envelope published to subscribers. Subscribers dedupe on ID.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Symbol    string      `json:"symbol"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEvent builds an event with a fresh id.
func NewEvent(t EventType, symbol string, at time.Time, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Symbol:    symbol,
		Timestamp: at,
		Payload:   payload,
	}
}
