package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBLogger persists audit events to a Postgres table. Because Accepted and
// Revoked invitations are indistinguishable in the invitations store, this
// table is the only durable record of which path an invitation took.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB) *DBLogger {
	return &DBLogger{db: db}
}

// Migrate creates the audit_events table if it does not exist
func (l *DBLogger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id UUID PRIMARY KEY,
			event_type VARCHAR(100) NOT NULL,
			organization_id UUID,
			actor_id UUID,
			email VARCHAR(320),
			code TEXT,
			detail JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_events_org ON audit_events(organization_id);
		CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
		CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create audit_events table: %w", err)
	}
	return nil
}

// Log persists the event
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	stamp(event)

	detailJSON, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("failed to marshal detail: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, event_type, organization_id, actor_id, email, code, detail, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
	`, event.ID, event.Type, event.OrganizationID, event.ActorID,
		event.Email, event.Code, detailJSON, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Close is a no-op; the caller owns the database handle
func (l *DBLogger) Close() error { return nil }

// ListByOrganization returns the most recent events for an organization,
// newest first, up to limit.
func (l *DBLogger) ListByOrganization(ctx context.Context, orgID string, limit int) ([]*Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, organization_id, actor_id, email, code, detail, created_at
		FROM audit_events
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var orgIDCol, email, code sql.NullString
		var detailJSON []byte
		var createdAt time.Time
		if err := rows.Scan(&event.ID, &event.Type, &orgIDCol, &event.ActorID,
			&email, &code, &detailJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.OrganizationID = orgIDCol.String
		event.Email = email.String
		event.Code = code.String
		event.Timestamp = createdAt
		if err := json.Unmarshal(detailJSON, &event.Detail); err != nil {
			return nil, fmt.Errorf("failed to unmarshal detail: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}

	return events, nil
}
