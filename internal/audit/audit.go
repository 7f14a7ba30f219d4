// Package audit records immutable pipeline decision events.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened during a pipeline run.
type EventType string

const (
	// EventValidationFailed is logged when a run aborts on a malformed
	// ticket, leaving it unmodified.
	EventValidationFailed EventType = "pipeline.validation_failed"
	// EventConflictExhausted is logged when a run gives up after the
	// commit retry bound.
	EventConflictExhausted EventType = "pipeline.conflict_exhausted"
	// EventEscalationVerdict is logged for every escalating verdict.
	EventEscalationVerdict EventType = "pipeline.escalation_verdict"
)

// Event is one immutable audit record.
type Event struct {
	ID        string          `json:"id"`
	EventType EventType       `json:"event_type"`
	OrgID     string          `json:"org_id"`
	TicketID  string          `json:"ticket_id,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Details holds event-specific payloads.
type Details struct {
	// For validation failures
	ValidationError string `json:"validation_error,omitempty"`

	// For exhausted retries
	Attempts int `json:"attempts,omitempty"`

	// For escalation verdicts
	Reasons    []string `json:"reasons,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Advisory   bool     `json:"advisory,omitempty"`
}

// Service writes audit events.
type Service struct {
	db *sql.DB
}

// NewService creates an audit service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Record persists one event.
func (s *Service) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (id, event_type, org_id, ticket_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.OrgID,
		nullString(event.TicketID),
		event.Details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record event: %w", err)
	}
	return nil
}

// RecordValidationFailure logs a run aborted on a malformed ticket.
func (s *Service) RecordValidationFailure(ctx context.Context, orgID, ticketID string, cause error) error {
	details, _ := json.Marshal(Details{ValidationError: cause.Error()})
	return s.Record(ctx, Event{
		EventType: EventValidationFailed,
		OrgID:     orgID,
		TicketID:  ticketID,
		Details:   details,
	})
}

// RecordConflictExhausted logs a run that lost every commit attempt.
func (s *Service) RecordConflictExhausted(ctx context.Context, orgID, ticketID string, attempts int) error {
	details, _ := json.Marshal(Details{Attempts: attempts})
	return s.Record(ctx, Event{
		EventType: EventConflictExhausted,
		OrgID:     orgID,
		TicketID:  ticketID,
		Details:   details,
	})
}

// RecordEscalation logs an escalating verdict with its full reason
// list.
func (s *Service) RecordEscalation(ctx context.Context, orgID, ticketID string, reasons []string, confidence float64, advisory bool) error {
	details, _ := json.Marshal(Details{
		Reasons:    reasons,
		Confidence: confidence,
		Advisory:   advisory,
	})
	return s.Record(ctx, Event{
		EventType: EventEscalationVerdict,
		OrgID:     orgID,
		TicketID:  ticketID,
		Details:   details,
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
