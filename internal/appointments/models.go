// Package appointments owns appointment records and the orchestrator that
// turns a resolved intent into calendar actions.
package appointments

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrInvalidTransition is returned for moves out of a terminal state.
	ErrInvalidTransition = errors.New("appointments: invalid status transition")
	// ErrNoScheduledAppointment is returned when a guarded update finds no
	// scheduled row to change.
	ErrNoScheduledAppointment = errors.New("appointments: no scheduled appointment")
)

// CanTransition reports whether from → to is allowed. Only scheduled
// appointments move, and only to a terminal state.
func CanTransition(from, to Status) bool {
	return from == StatusScheduled && (to == StatusCompleted || to == StatusCancelled)
}

// Appointment is one booked slot for a patient.
type Appointment struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	CalendarEventID string    `json:"calendar_event_id"`
	Summary         string    `json:"summary"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
