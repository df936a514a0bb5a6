// Package calendar talks to the external calendar that owns the clinic's
// authoritative schedule.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrEventNotFound is returned when the event no longer exists upstream.
var ErrEventNotFound = errors.New("calendar: event not found")

// EventDetails describes an event to create.
type EventDetails struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Event is a created calendar event.
type Event struct {
	ID    string
	Start time.Time
	End   time.Time
}

// Window is a [Start, End) time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Calendar is the collaborator contract. Failures are returned, never retried.
type Calendar interface {
	Create(ctx context.Context, details EventDetails) (Event, error)
	Cancel(ctx context.Context, eventID string) error
	Reschedule(ctx context.Context, eventID string, window Window) error
}
