package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiagorragazzo/clinic-assistant/internal/appointments"
	httpmiddleware "github.com/thiagorragazzo/clinic-assistant/internal/http/middleware"
	"github.com/thiagorragazzo/clinic-assistant/internal/patients"
	"github.com/thiagorragazzo/clinic-assistant/internal/reminders"
)

type stubPatients struct {
	byContact map[string]*patients.Patient
	err       error
	asked     string
}

func (s *stubPatients) FindByContact(_ context.Context, contact string) (*patients.Patient, error) {
	s.asked = contact
	return s.byContact[contact], s.err
}

type stubAppointments struct {
	list []appointments.Appointment
	err  error
}

func (s *stubAppointments) ListByPatient(context.Context, uuid.UUID, int) ([]appointments.Appointment, error) {
	return s.list, s.err
}

func routePatients(h *AdminPatientsHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/admin/patients/{contact}", h.GetPatient)
	return r
}

func TestGetPatientMasksIdentity(t *testing.T) {
	id := uuid.New()
	start := time.Date(2025, 3, 12, 17, 30, 0, 0, time.UTC)
	pats := &stubPatients{byContact: map[string]*patients.Patient{
		"whatsapp:+5511999990000": {ID: id, Name: "Ana Souza", IdentityNumber: "11144477735", ContactAddress: "whatsapp:+5511999990000", AppointmentCount: 1},
	}}
	appts := &stubAppointments{list: []appointments.Appointment{
		{ID: uuid.New(), PatientID: id, CalendarEventID: "evt-1", StartTime: start, EndTime: start.Add(30 * time.Minute), Status: appointments.StatusScheduled},
	}}

	rec := httptest.NewRecorder()
	routePatients(NewAdminPatientsHandler(pats, appts, nil)).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/admin/patients/whatsapp:%2B5511999990000", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "whatsapp:+5511999990000", pats.asked)
	assert.NotContains(t, rec.Body.String(), "11144477735")

	var resp PatientResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "***.***.***-35", resp.MaskedIdentityNumber)
	require.Len(t, resp.Appointments, 1)
	assert.Equal(t, "scheduled", resp.Appointments[0].Status)
}

func TestGetPatientErrors(t *testing.T) {
	tests := []struct {
		name string
		pats *stubPatients
		appt *stubAppointments
		path string
		want int
	}{
		{"not found", &stubPatients{}, &stubAppointments{}, "/admin/patients/5511999990000", http.StatusNotFound},
		{"bad contact", &stubPatients{}, &stubAppointments{}, "/admin/patients/abc", http.StatusBadRequest},
		{"lookup error", &stubPatients{err: errors.New("db")}, &stubAppointments{}, "/admin/patients/5511999990000", http.StatusInternalServerError},
		{"listing error", &stubPatients{byContact: map[string]*patients.Patient{"+5511999990000": {ID: uuid.New()}}}, &stubAppointments{err: errors.New("db")}, "/admin/patients/5511999990000", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			routePatients(NewAdminPatientsHandler(tt.pats, tt.appt, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

type recordingAuditor struct {
	calls []string
	err   error
}

func (a *recordingAuditor) LogPatientLookup(_ context.Context, actor, contact, patientID string) error {
	a.calls = append(a.calls, actor+"|"+contact+"|"+patientID)
	return a.err
}

func TestGetPatientAuditsLookups(t *testing.T) {
	id := uuid.New()
	pats := &stubPatients{byContact: map[string]*patients.Patient{"+5511999990000": {ID: id}}}
	auditor := &recordingAuditor{}

	const secret = "admin-secret"
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "recepcao",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	h := NewAdminPatientsHandler(pats, &stubAppointments{}, nil, WithLookupAuditor(auditor))
	r := chi.NewRouter()
	r.With(httpmiddleware.AdminJWT(secret)).Get("/admin/patients/{contact}", h.GetPatient)

	for _, path := range []string{"/admin/patients/5511999990000", "/admin/patients/5511888880000"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, []string{
		"recepcao|+5511999990000|" + id.String(),
		"recepcao|+5511888880000|",
	}, auditor.calls)
}

func TestGetPatientAuditFailureDoesNotBlockLookup(t *testing.T) {
	pats := &stubPatients{byContact: map[string]*patients.Patient{"+5511999990000": {ID: uuid.New()}}}
	auditor := &recordingAuditor{err: errors.New("db")}

	rec := httptest.NewRecorder()
	routePatients(NewAdminPatientsHandler(pats, &stubAppointments{}, nil, WithLookupAuditor(auditor))).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/patients/5511999990000", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, auditor.calls, 1)
	assert.True(t, strings.HasPrefix(auditor.calls[0], "unknown|"))
}

type stubSweeper struct {
	res reminders.SweepResult
	err error
}

func (s stubSweeper) Sweep(context.Context) (reminders.SweepResult, error) { return s.res, s.err }

func TestAdminSweep(t *testing.T) {
	rec := httptest.NewRecorder()
	NewAdminRemindersHandler(stubSweeper{res: reminders.SweepResult{Sent: 2, Completed: 1}}, nil).
		Sweep(rec, httptest.NewRequest(http.MethodPost, "/admin/reminders/sweep", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sent":2,"completed":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewAdminRemindersHandler(stubSweeper{err: errors.New("db")}, nil).
		Sweep(rec, httptest.NewRequest(http.MethodPost, "/admin/reminders/sweep", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("refused") })

	rec := httptest.NewRecorder()
	Health(map[string]Pinger{"postgres": ok})(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	Health(map[string]Pinger{"postgres": ok, "redis": down})(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"postgres":"ok","redis":"down"}}`, rec.Body.String())
}
