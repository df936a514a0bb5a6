package patients

import (
	"context"
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

const selectPatient = `
	SELECT p.id, p.name, p.identity_number, p.identity_fingerprint, p.contact_address, p.email, p.created_at, p.updated_at,
		(SELECT MAX(a.end_time) FROM appointments a WHERE a.patient_id = p.id AND a.status = 'completed'),
		(SELECT COUNT(*) FROM appointments a WHERE a.patient_id = p.id)
	FROM patients p`

// store runs the SQL for the patients table.
type store struct {
	db DB
}

func newStore(db DB) *store {
	if db == nil {
		panic("patients: db cannot be nil")
	}
	return &store{db: db}
}

// Upsert inserts a patient or updates the row that owns the contact address,
// in one statement. An omitted email keeps the stored one.
func (s *store) Upsert(ctx context.Context, rec record, now time.Time) (uuid.UUID, bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	var (
		id       uuid.UUID
		inserted bool
	)
	err := s.db.QueryRow(ctx, `
		INSERT INTO patients (id, name, identity_number, identity_fingerprint, contact_address, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (contact_address) DO UPDATE SET
			name = EXCLUDED.name,
			identity_number = EXCLUDED.identity_number,
			identity_fingerprint = EXCLUDED.identity_fingerprint,
			email = COALESCE(EXCLUDED.email, patients.email),
			updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0) AS inserted`,
		rec.ID, rec.Name, rec.Identity, rec.Fingerprint, rec.ContactAddress, rec.Email, now,
	).Scan(&id, &inserted)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("patients: upsert: %w", err)
	}
	return id, inserted, nil
}

// FindByContact returns the patient row for a contact address, or nil.
func (s *store) FindByContact(ctx context.Context, contact string) (*record, error) {
	rows, err := s.db.Query(ctx, selectPatient+` WHERE p.contact_address = $1`, contact)
	if err != nil {
		return nil, fmt.Errorf("patients: find by contact: %w", err)
	}
	return firstRecord(rows)
}

// FindByFingerprint returns the patient whose identity fingerprint matches, or nil.
func (s *store) FindByFingerprint(ctx context.Context, fingerprint string) (*record, error) {
	rows, err := s.db.Query(ctx, selectPatient+` WHERE p.identity_fingerprint = $1 ORDER BY p.updated_at DESC LIMIT 1`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("patients: find by fingerprint: %w", err)
	}
	return firstRecord(rows)
}

// ListUnfingerprinted returns rows written before fingerprints existed.
func (s *store) ListUnfingerprinted(ctx context.Context) ([]record, error) {
	rows, err := s.db.Query(ctx, selectPatient+` WHERE p.identity_fingerprint IS NULL ORDER BY p.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("patients: list unfingerprinted: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// SetIdentity rewrites the stored identity number and its fingerprint.
func (s *store) SetIdentity(ctx context.Context, id uuid.UUID, stored, fingerprint string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE patients SET identity_number = $1, identity_fingerprint = $2
		WHERE id = $3`, stored, fingerprint, id)
	if err != nil {
		return fmt.Errorf("patients: set identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patients: set identity %s: %w", id, ErrNotFound)
	}
	return nil
}

func firstRecord(rows pgx.Rows) (*record, error) {
	defer rows.Close()
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func scanRecords(rows pgx.Rows) ([]record, error) {
	var out []record
	for rows.Next() {
		var r record
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Identity, &r.Fingerprint, &r.ContactAddress, &r.Email,
			&r.CreatedAt, &r.UpdatedAt, &r.LastCompletedAt, &r.AppointmentCount,
		); err != nil {
			return nil, fmt.Errorf("patients: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("patients: rows: %w", err)
	}
	return out, nil
}
