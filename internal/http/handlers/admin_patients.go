package handlers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/thiagorragazzo/clinic-assistant/internal/appointments"
	httpmiddleware "github.com/thiagorragazzo/clinic-assistant/internal/http/middleware"
	"github.com/thiagorragazzo/clinic-assistant/internal/messaging"
	"github.com/thiagorragazzo/clinic-assistant/internal/patients"
	"github.com/thiagorragazzo/clinic-assistant/internal/validation"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

type patientLookup interface {
	FindByContact(ctx context.Context, contact string) (*patients.Patient, error)
}

type appointmentLister interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]appointments.Appointment, error)
}

// LookupAuditor records staff reads of patient data.
type LookupAuditor interface {
	LogPatientLookup(ctx context.Context, actor, contact, patientID string) error
}

// AdminPatientsHandler lets clinic staff look up a patient by contact.
type AdminPatientsHandler struct {
	patients     patientLookup
	appointments appointmentLister
	auditor      LookupAuditor
	logger       *logging.Logger
}

type AdminPatientsOption func(*AdminPatientsHandler)

// WithLookupAuditor records every lookup, found or not.
func WithLookupAuditor(a LookupAuditor) AdminPatientsOption {
	return func(h *AdminPatientsHandler) { h.auditor = a }
}

func NewAdminPatientsHandler(p patientLookup, a appointmentLister, logger *logging.Logger, opts ...AdminPatientsOption) *AdminPatientsHandler {
	if p == nil || a == nil {
		panic("handlers: patient lookup and appointment lister are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &AdminPatientsHandler{patients: p, appointments: a, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PatientResponse never carries the full identity number.
type PatientResponse struct {
	ID                   string                `json:"id"`
	Name                 string                `json:"name"`
	MaskedIdentityNumber string                `json:"masked_identity_number"`
	ContactAddress       string                `json:"contact_address"`
	Email                *string               `json:"email,omitempty"`
	AppointmentCount     int                   `json:"appointment_count"`
	LastCompletedAt      *time.Time            `json:"last_completed_at,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	Appointments         []AppointmentResponse `json:"appointments"`
}

type AppointmentResponse struct {
	ID              string    `json:"id"`
	CalendarEventID string    `json:"calendar_event_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Status          string    `json:"status"`
}

const adminAppointmentLimit = 20

// GetPatient handles GET /admin/patients/{contact}.
func (h *AdminPatientsHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "contact"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact")
		return
	}
	contact := messaging.NormalizeContact(raw)
	if contact == "" {
		writeError(w, http.StatusBadRequest, "invalid contact")
		return
	}

	patient, err := h.patients.FindByContact(r.Context(), contact)
	if err != nil {
		h.logger.Error("admin patient lookup failed", "error", err, "contact", contact)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if patient == nil {
		h.audit(r, contact, "")
		writeError(w, http.StatusNotFound, "patient not found")
		return
	}
	h.audit(r, contact, patient.ID.String())

	list, err := h.appointments.ListByPatient(r.Context(), patient.ID, adminAppointmentLimit)
	if err != nil {
		h.logger.Error("admin appointment listing failed", "error", err, "patient_id", patient.ID.String())
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	resp := PatientResponse{
		ID:                   patient.ID.String(),
		Name:                 patient.Name,
		MaskedIdentityNumber: validation.MaskIdentityNumber(patient.IdentityNumber),
		ContactAddress:       patient.ContactAddress,
		Email:                patient.Email,
		AppointmentCount:     patient.AppointmentCount,
		LastCompletedAt:      patient.LastCompletedAt,
		CreatedAt:            patient.CreatedAt,
		Appointments:         make([]AppointmentResponse, 0, len(list)),
	}
	for _, a := range list {
		resp.Appointments = append(resp.Appointments, AppointmentResponse{
			ID:              a.ID.String(),
			CalendarEventID: a.CalendarEventID,
			StartTime:       a.StartTime,
			EndTime:         a.EndTime,
			Status:          string(a.Status),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// audit failures are logged; a lookup is not refused because the log is down.
func (h *AdminPatientsHandler) audit(r *http.Request, contact, patientID string) {
	if h.auditor == nil {
		return
	}
	actor := httpmiddleware.AdminActor(r.Context())
	if err := h.auditor.LogPatientLookup(r.Context(), actor, contact, patientID); err != nil {
		h.logger.Error("admin lookup audit failed", "error", err, "actor", actor)
	}
}
