package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const reminderColumns = `id, appointment_id, contact, patient_name, kind, appointment_start, fire_at, status, attempts, last_error, sent_at, created_at, updated_at`

// Store provides persistence for appointment_reminders.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	if db == nil {
		panic("reminders: db cannot be nil")
	}
	return &Store{db: db}
}

// Insert adds a pending reminder. A cancelled row for the same appointment,
// kind and fire time is re-armed in place, so moving an appointment back to a
// slot it held before gets its reminders again. Any other existing row is left
// untouched; inserted reports whether a row was added or re-armed.
func (s *Store) Insert(ctx context.Context, r *Reminder) (bool, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Status = StatusPending

	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO appointment_reminders (id, appointment_id, contact, patient_name, kind, appointment_start, fire_at, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 0, $8, $8)
		ON CONFLICT (appointment_id, kind, fire_at) DO UPDATE
		SET status = 'pending', attempts = 0, last_error = NULL, claimed_at = NULL, sent_at = NULL,
			contact = EXCLUDED.contact, patient_name = EXCLUDED.patient_name,
			appointment_start = EXCLUDED.appointment_start, updated_at = EXCLUDED.updated_at
		WHERE appointment_reminders.status = 'cancelled'
		RETURNING id`,
		r.ID, r.AppointmentID, r.Contact, r.PatientName, string(r.Kind), r.AppointmentStart.UTC(), r.FireAt.UTC(), now,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reminders: insert: %w", err)
	}
	r.ID = id
	return true, nil
}

// CancelPending cancels every reminder of an appointment that was not sent yet.
func (s *Store) CancelPending(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointment_reminders SET status = 'cancelled', updated_at = $1
		WHERE appointment_id = $2 AND status = 'pending'`, time.Now().UTC(), appointmentID)
	if err != nil {
		return 0, fmt.Errorf("reminders: cancel pending: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimDue moves up to limit due reminders to sending and returns them.
// Concurrent sweeps skip each other's rows.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Reminder, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE appointment_reminders
		SET status = 'sending', attempts = attempts + 1, claimed_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM appointment_reminders
			WHERE status = 'pending' AND fire_at <= $1
			ORDER BY fire_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+reminderColumns, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("reminders: claim due: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// MarkSent transitions a claimed reminder to sent. It only applies to rows
// still in sending, so a reminder is never marked twice.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE appointment_reminders SET status = 'sent', sent_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'sending'`, now, id)
	if err != nil {
		return fmt.Errorf("reminders: mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reminders: mark sent: no sending reminder with id %s", id)
	}
	return nil
}

// Release returns a claimed reminder to pending after a failed send, or marks
// it failed once maxAttempts is reached.
func (s *Store) Release(ctx context.Context, id uuid.UUID, sendErr string, maxAttempts int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE appointment_reminders
		SET status = CASE WHEN attempts >= $1 THEN 'failed' ELSE 'pending' END,
			last_error = $2, updated_at = $3
		WHERE id = $4 AND status = 'sending'`, maxAttempts, sendErr, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reminders: release: %w", err)
	}
	return nil
}

// RearmStale returns claims older than claimedBefore to pending. Those rows
// belong to a sweep that died between claiming and marking.
func (s *Store) RearmStale(ctx context.Context, claimedBefore time.Time, maxAttempts int) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointment_reminders
		SET status = CASE WHEN attempts >= $1 THEN 'failed' ELSE 'pending' END, updated_at = $2
		WHERE status = 'sending' AND claimed_at < $3`, maxAttempts, time.Now().UTC(), claimedBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("reminders: rearm stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByAppointment returns every reminder of an appointment by fire time.
func (s *Store) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Reminder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM appointment_reminders
		WHERE appointment_id = $1
		ORDER BY fire_at ASC`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("reminders: list by appointment: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func scanReminders(rows pgx.Rows) ([]Reminder, error) {
	var out []Reminder
	for rows.Next() {
		var r Reminder
		var kind, status string
		if err := rows.Scan(
			&r.ID, &r.AppointmentID, &r.Contact, &r.PatientName, &kind, &r.AppointmentStart, &r.FireAt,
			&status, &r.Attempts, &r.LastError, &r.SentAt, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("reminders: scan: %w", err)
		}
		r.Kind = Kind(kind)
		r.Status = Status(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reminders: rows: %w", err)
	}
	return out, nil
}
