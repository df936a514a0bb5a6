// Package conversation runs one conversational turn per inbound message:
// it keeps the per-contact message log, serializes turns for a contact,
// resolves intent, executes the resulting action and replies.
package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/thiagorragazzo/clinic-assistant/internal/llm"
)

var tracer = otel.Tracer("clinic-assistant.conversation")

// MessageRecord is one persisted conversation message.
type MessageRecord struct {
	ID             int64
	ContactAddress string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// Store persists the per-contact message log in conversation_messages.
// Rows carry a serial id, so id order is arrival order.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("conversation: db cannot be nil")
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Append records one message for contact.
func (s *Store) Append(ctx context.Context, contact, role, content string) error {
	ctx, span := tracer.Start(ctx, "conversation.append")
	defer span.End()

	contact = strings.TrimSpace(contact)
	if contact == "" {
		return errors.New("conversation: contact address is required")
	}
	switch role {
	case llm.RoleUser, llm.RoleAssistant, llm.RoleSystem:
	default:
		return fmt.Errorf("conversation: unknown role %q", role)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (contact_address, role, content, created_at)
		VALUES ($1, $2, $3, $4)`, contact, role, content, s.now())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: append message: %w", err)
	}
	return nil
}

// RecentHistory returns at most limit of the contact's latest messages,
// oldest first.
func (s *Store) RecentHistory(ctx context.Context, contact string, limit int) ([]llm.Message, error) {
	records, err := s.Recent(ctx, contact, limit)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(records))
	for _, r := range records {
		out = append(out, llm.Message{Role: r.Role, Content: r.Content})
	}
	return out, nil
}

// Recent is RecentHistory with the stored metadata.
func (s *Store) Recent(ctx context.Context, contact string, limit int) ([]MessageRecord, error) {
	ctx, span := tracer.Start(ctx, "conversation.recent_history")
	defer span.End()

	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contact_address, role, content, created_at FROM (
			SELECT id, contact_address, role, content, created_at
			FROM conversation_messages
			WHERE contact_address = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id ASC`, strings.TrimSpace(contact), limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: recent history: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var r MessageRecord
		if err := rows.Scan(&r.ID, &r.ContactAddress, &r.Role, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate messages: %w", err)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
