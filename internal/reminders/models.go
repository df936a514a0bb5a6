// Package reminders persists and delivers the two notifications sent before
// every scheduled appointment. Rows live in appointment_reminders, so a
// restart loses nothing; a periodic sweep claims due rows and sends them.
package reminders

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies which of the two reminders a row is.
type Kind string

const (
	KindDayBefore Kind = "day_before"
	KindSameDay   Kind = "same_day"
)

// Status tracks the delivery lifecycle: pending → sending → sent, with
// cancelled and failed as the other terminal states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Reminder is one deferred notification.
type Reminder struct {
	ID               uuid.UUID  `json:"id"`
	AppointmentID    uuid.UUID  `json:"appointment_id"`
	Contact          string     `json:"contact"`
	PatientName      string     `json:"patient_name"`
	Kind             Kind       `json:"kind"`
	AppointmentStart time.Time  `json:"appointment_start"`
	FireAt           time.Time  `json:"fire_at"`
	Status           Status     `json:"status"`
	Attempts         int        `json:"attempts"`
	LastError        *string    `json:"last_error,omitempty"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Input is what the orchestrator knows about a confirmed appointment.
type Input struct {
	AppointmentID uuid.UUID
	Contact       string
	PatientName   string
	Start         time.Time
}

// Policy holds the reminder timing and retry settings.
type Policy struct {
	Location      *time.Location
	DayBeforeHour int
	SameDayLead   time.Duration
	MaxAttempts   int
	ClaimTimeout  time.Duration
}

// DefaultPolicy fires at 10:00 the day before and three hours before start.
func DefaultPolicy(loc *time.Location) Policy {
	if loc == nil {
		loc = time.UTC
	}
	return Policy{
		Location:      loc,
		DayBeforeHour: 10,
		SameDayLead:   3 * time.Hour,
		MaxAttempts:   5,
		ClaimTimeout:  5 * time.Minute,
	}
}

// Fire is a computed reminder time.
type Fire struct {
	Kind Kind
	At   time.Time
}

// FireTimes returns the day-before reminder (at DayBeforeHour local time on
// the previous day) and the same-day reminder (SameDayLead before start).
func FireTimes(start time.Time, p Policy) []Fire {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	local := start.In(loc)
	y, m, d := local.Date()
	dayBefore := time.Date(y, m, d-1, p.DayBeforeHour, 0, 0, 0, loc)

	return []Fire{
		{Kind: KindDayBefore, At: dayBefore},
		{Kind: KindSameDay, At: local.Add(-p.SameDayLead)},
	}
}
