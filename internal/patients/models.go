// Package patients keeps the patient registry keyed by contact address.
// Identity numbers are stored encrypted with a keyed fingerprint next to
// them for equality lookups.
package patients

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an update targets a patient that does not exist.
var ErrNotFound = errors.New("patients: not found")

// Patient is the decrypted view of a patient row plus derived fields.
type Patient struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	IdentityNumber   string     `json:"-"`
	ContactAddress   string     `json:"contact_address"`
	Email            *string    `json:"email,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	LastCompletedAt  *time.Time `json:"last_completed_at,omitempty"`
	AppointmentCount int        `json:"appointment_count"`
}

// Identity is what a successful scheduling attempt knows about a patient.
type Identity struct {
	Name           string
	IdentityNumber string
	ContactAddress string
	Email          *string
}

// UpsertResult reports which branch an upsert took.
type UpsertResult struct {
	ID      uuid.UUID
	Created bool
	Updated bool
}

// record mirrors the patients table; identity holds the stored form.
type record struct {
	ID               uuid.UUID
	Name             string
	Identity         string
	Fingerprint      *string
	ContactAddress   string
	Email            *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastCompletedAt  *time.Time
	AppointmentCount int64
}
