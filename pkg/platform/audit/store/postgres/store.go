// Package postgres persists audit events in PostgreSQL through database/sql
// (lib/pq). Every Append writes the queryable audit_events row and an outbox
// row in one transaction; Relay forwards outbox rows to a downstream sink.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "ipx/pkg/domain"
	audit "ipx/pkg/platform/audit"
	txcontext "ipx/pkg/platform/tx"
)

// Schema creates the tables the store needs.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id              UUID PRIMARY KEY,
	category        TEXT NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL,
	principal       TEXT NOT NULL DEFAULT '',
	registration_id TEXT NOT NULL DEFAULT '',
	subject         TEXT NOT NULL DEFAULT '',
	action          TEXT NOT NULL,
	decision        TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL DEFAULT '',
	request_id      TEXT NOT NULL DEFAULT '',
	client_ip       TEXT NOT NULL DEFAULT '',
	user_agent      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_events_principal_idx ON audit_events (principal, timestamp);
CREATE INDEX IF NOT EXISTS audit_events_registration_idx ON audit_events (registration_id, timestamp);

CREATE TABLE IF NOT EXISTS audit_outbox (
	id            UUID PRIMARY KEY,
	event_id      UUID NOT NULL,
	event_type    TEXT NOT NULL,
	payload       JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	published_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS audit_outbox_pending_idx ON audit_outbox (created_at) WHERE published_at IS NULL;
`

// Store implements audit.Store and audit.Lister.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema applies Schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Payload is the JSON form of an event in the outbox and on the wire.
type Payload struct {
	ID             string `json:"id"`
	Category       string `json:"category"`
	Timestamp      string `json:"timestamp"`
	Principal      string `json:"principal,omitempty"`
	RegistrationID string `json:"registration_id,omitempty"`
	Subject        string `json:"subject,omitempty"`
	Action         string `json:"action"`
	Decision       string `json:"decision,omitempty"`
	Reason         string `json:"reason,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	ClientIP       string `json:"client_ip,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
}

func PayloadFrom(e audit.Event) Payload {
	return Payload{
		ID:             e.ID,
		Category:       string(e.Category),
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		Principal:      string(e.Principal),
		RegistrationID: e.RegistrationID,
		Subject:        e.Subject,
		Action:         e.Action,
		Decision:       e.Decision,
		Reason:         e.Reason,
		RequestID:      e.RequestID,
		ClientIP:       e.ClientIP,
		UserAgent:      e.UserAgent,
	}
}

// Event converts the payload back to an audit event.
func (p Payload) Event() (audit.Event, error) {
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("parse audit timestamp: %w", err)
	}
	return audit.Event{
		ID:             p.ID,
		Category:       audit.EventCategory(p.Category),
		Timestamp:      ts,
		Principal:      id.PrincipalID(p.Principal),
		RegistrationID: p.RegistrationID,
		Subject:        p.Subject,
		Action:         p.Action,
		Decision:       p.Decision,
		Reason:         p.Reason,
		RequestID:      p.RequestID,
		ClientIP:       p.ClientIP,
		UserAgent:      p.UserAgent,
	}, nil
}

// Append writes the event and its outbox entry. When ctx carries a
// transaction both rows join it; otherwise the store opens its own.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
		event.ID = eventID.String()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		return s.appendWith(ctx, tx, eventID, event)
	})
}

func (s *Store) appendWith(ctx context.Context, exec dbExecutor, eventID uuid.UUID, event audit.Event) error {
	payload, err := json.Marshal(PayloadFrom(event))
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, category, timestamp, principal, registration_id, subject,
			action, decision, reason, request_id, client_ip, user_agent
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`,
		eventID,
		string(event.Category),
		event.Timestamp,
		string(event.Principal),
		event.RegistrationID,
		event.Subject,
		event.Action,
		event.Decision,
		event.Reason,
		event.RequestID,
		event.ClientIP,
		event.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, event_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), eventID, event.Action, payload, time.Now())
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

const selectEvents = `
	SELECT id, category, timestamp, principal, registration_id, subject,
		   action, decision, reason, request_id, client_ip, user_agent
	FROM audit_events
`

func (s *Store) ListByPrincipal(ctx context.Context, principal id.PrincipalID) ([]audit.Event, error) {
	return s.query(ctx, selectEvents+` WHERE principal = $1 ORDER BY timestamp`, string(principal))
}

func (s *Store) ListByRegistration(ctx context.Context, registrationID string) ([]audit.Event, error) {
	return s.query(ctx, selectEvents+` WHERE registration_id = $1 ORDER BY timestamp`, registrationID)
}

// ListRecent returns the N most recent events, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	return s.query(ctx, selectEvents+` ORDER BY timestamp DESC LIMIT $1`, limit)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event     audit.Event
			eventID   uuid.UUID
			category  string
			principal string
		)
		if err := rows.Scan(
			&eventID,
			&category,
			&event.Timestamp,
			&principal,
			&event.RegistrationID,
			&event.Subject,
			&event.Action,
			&event.Decision,
			&event.Reason,
			&event.RequestID,
			&event.ClientIP,
			&event.UserAgent,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = eventID.String()
		event.Category = audit.EventCategory(category)
		event.Principal = id.PrincipalID(principal)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
