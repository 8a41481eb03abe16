package journal

import (
	"sync"
	"time"
)

// MemoryJournal keeps events in memory. Used in tests and when no
// database is configured.
type MemoryJournal struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (m *MemoryJournal) Record(event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryJournal) Events(eventType EventType, start, end time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Type != eventType {
			continue
		}
		if e.Time.Before(start) || e.Time.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
