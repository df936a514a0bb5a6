package appointments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("clinic-assistant.appointments")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the persistence the orchestrator needs.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	ListUpcomingScheduled(ctx context.Context, patientID uuid.UUID, now time.Time) ([]Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
	UpdateWindow(ctx context.Context, id uuid.UUID, start, end time.Time) error
}

const appointmentColumns = `id, patient_id, calendar_event_id, summary, start_time, end_time, status, created_at, updated_at`

// Store provides CRUD operations for appointments.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	if db == nil {
		panic("appointments: db cannot be nil")
	}
	return &Store{db: db}
}

// Create inserts a scheduled appointment.
func (s *Store) Create(ctx context.Context, a *Appointment) error {
	ctx, span := tracer.Start(ctx, "appointments.create")
	defer span.End()

	if !a.StartTime.Before(a.EndTime) {
		return fmt.Errorf("appointments: create: start %s is not before end %s", a.StartTime, a.EndTime)
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.PatientID, a.CalendarEventID, a.Summary, a.StartTime.UTC(), a.EndTime.UTC(),
		string(a.Status), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("appointments: create: %w", err)
	}
	return nil
}

// ListUpcomingScheduled returns the patient's scheduled appointments that
// have not started yet, nearest first.
func (s *Store) ListUpcomingScheduled(ctx context.Context, patientID uuid.UUID, now time.Time) ([]Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.list_upcoming_scheduled")
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 AND status = 'scheduled' AND start_time > $2
		ORDER BY start_time ASC`, patientID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("appointments: list upcoming: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// ListByPatient returns the most recent appointments of a patient.
func (s *Store) ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time DESC LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("appointments: list by patient: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// UpdateStatus moves an appointment from one status to another. The update
// only applies while the row is still in from.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	ctx, span := tracer.Start(ctx, "appointments.update_status")
	defer span.End()

	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("appointments: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointments: update status %s: %w", id, ErrNoScheduledAppointment)
	}
	return nil
}

// UpdateWindow moves a scheduled appointment to a new time range.
func (s *Store) UpdateWindow(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	if !start.Before(end) {
		return fmt.Errorf("appointments: update window: start %s is not before end %s", start, end)
	}
	ctx, span := tracer.Start(ctx, "appointments.update_window")
	defer span.End()

	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET start_time = $1, end_time = $2, updated_at = $3
		WHERE id = $4 AND status = 'scheduled'`, start.UTC(), end.UTC(), time.Now().UTC(), id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("appointments: update window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointments: update window %s: %w", id, ErrNoScheduledAppointment)
	}
	return nil
}

// CompletePast marks scheduled appointments whose slot already ended as
// completed and returns how many changed.
func (s *Store) CompletePast(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET status = 'completed', updated_at = $1
		WHERE status = 'scheduled' AND end_time <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("appointments: complete past: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var out []Appointment
	for rows.Next() {
		var a Appointment
		var status string
		if err := rows.Scan(
			&a.ID, &a.PatientID, &a.CalendarEventID, &a.Summary, &a.StartTime, &a.EndTime,
			&status, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		a.Status = Status(status)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: rows: %w", err)
	}
	return out, nil
}
