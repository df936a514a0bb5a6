package calendar

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryCalendar keeps events in process. It backs local development and
// tests; nothing survives a restart.
type MemoryCalendar struct {
	mu     sync.Mutex
	events map[string]Event
}

func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{events: make(map[string]Event)}
}

func (m *MemoryCalendar) Create(ctx context.Context, details EventDetails) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if !details.Start.Before(details.End) {
		return Event{}, fmt.Errorf("calendar: event must start before it ends")
	}
	ev := Event{ID: uuid.NewString(), Start: details.Start, End: details.End}

	m.mu.Lock()
	m.events[ev.ID] = ev
	m.mu.Unlock()
	return ev, nil
}

func (m *MemoryCalendar) Cancel(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[eventID]; !ok {
		return ErrEventNotFound
	}
	delete(m.events, eventID)
	return nil
}

func (m *MemoryCalendar) Reschedule(ctx context.Context, eventID string, window Window) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok {
		return ErrEventNotFound
	}
	ev.Start, ev.End = window.Start, window.End
	m.events[eventID] = ev
	return nil
}

// Get returns a stored event.
func (m *MemoryCalendar) Get(eventID string) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	return ev, ok
}

// Len reports how many events are stored.
func (m *MemoryCalendar) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
