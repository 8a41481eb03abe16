// Package journal records trading events for later inspection and writes
// the per-tick position audit log.
package journal

import "time"

type EventType string

const (
	EventSignal EventType = "signal"
	EventOrder  EventType = "order"
	EventExit   EventType = "exit"
	EventError  EventType = "error"
)

// Event is one journaled trading event.
type Event struct {
	Time      time.Time
	Type      EventType
	Symbol    string
	Timestamp time.Time // signal row timestamp the event belongs to
	Payload   map[string]any
}

// Journaler persists events.
type Journaler interface {
	Record(event Event) error
	Events(eventType EventType, start, end time.Time) ([]Event, error)
}
