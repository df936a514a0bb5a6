// Package compliance keeps the LGPD access log: who read or transformed
// patient personal data, and when.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of compliance event.
type AuditEventType string

const (
	// EventPatientLookup is logged when staff read a patient record.
	EventPatientLookup AuditEventType = "lgpd.patient_lookup"
	// EventIdentityMigration is logged when stored identity numbers are re-encrypted.
	EventIdentityMigration AuditEventType = "lgpd.identity_migration"
)

// AuditEvent is an immutable audit record. Subject is the patient ID when
// one was involved; it never holds the identity number itself.
type AuditEvent struct {
	ID        string          `json:"id"`
	EventType AuditEventType  `json:"event_type"`
	Actor     string          `json:"actor"`
	Subject   string          `json:"subject,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	// For patient lookup
	ContactAddress string `json:"contact_address,omitempty"`
	Found          *bool  `json:"found,omitempty"`

	// For identity migration
	Migrated *int `json:"migrated,omitempty"`
}

// AuditService handles compliance audit logging.
type AuditService struct {
	db  *sql.DB
	now func() time.Time
}

func NewAuditService(db *sql.DB) *AuditService {
	if db == nil {
		panic("compliance: db cannot be nil")
	}
	return &AuditService{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// LogEvent records a compliance audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	if event.Actor == "" {
		event.Actor = "system"
	}

	query := `
		INSERT INTO compliance_audit_events (
			id, event_type, actor, subject, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.Actor,
		nullString(event.Subject),
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// LogPatientLookup records an admin read of a patient record. patientID is
// empty when no patient matched.
func (s *AuditService) LogPatientLookup(ctx context.Context, actor, contact, patientID string) error {
	found := patientID != ""
	detailsJSON, _ := json.Marshal(AuditDetails{ContactAddress: contact, Found: &found})

	return s.LogEvent(ctx, AuditEvent{
		EventType: EventPatientLookup,
		Actor:     actor,
		Subject:   patientID,
		Details:   detailsJSON,
	})
}

// LogIdentityMigration records a legacy identity re-encryption run.
func (s *AuditService) LogIdentityMigration(ctx context.Context, migrated int) error {
	detailsJSON, _ := json.Marshal(AuditDetails{Migrated: &migrated})

	return s.LogEvent(ctx, AuditEvent{
		EventType: EventIdentityMigration,
		Details:   detailsJSON,
	})
}

// QueryEvents retrieves audit events with filters, newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, actor, subject, details, created_at
		FROM compliance_audit_events
		WHERE 1 = 1
	`
	var args []interface{}
	argIdx := 1

	if filter.Subject != "" {
		query += fmt.Sprintf(" AND subject = $%d", argIdx)
		args = append(args, filter.Subject)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var subject sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.Actor, &subject, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.Subject = subject.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to read audit events: %w", err)
	}

	return events, nil
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	Subject   string
	EventType AuditEventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
