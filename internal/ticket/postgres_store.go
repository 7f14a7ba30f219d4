package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore persists tickets and interactions in the relational
// database. Commit relies on a conditional UPDATE against the version
// column instead of row locks.
type PostgresStore struct {
	db querier
}

// NewPostgresStore initializes a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("ticket: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithDB(db querier) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Snapshot reads the ticket and its full history in one transaction.
func (s *PostgresStore) Snapshot(ctx context.Context, ticketID uuid.UUID) (Snapshot, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("ticket: begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	var snap Snapshot
	row := tx.QueryRow(ctx, `
		SELECT id, org_id, subject, status, priority, category, sentiment,
		       escalated, version, created_at, updated_at
		FROM tickets
		WHERE id = $1
	`, ticketID)
	if err := row.Scan(
		&snap.Ticket.ID,
		&snap.Ticket.OrgID,
		&snap.Ticket.Subject,
		&snap.Ticket.Status,
		&snap.Ticket.Priority,
		&snap.Ticket.Category,
		&snap.Ticket.Sentiment,
		&snap.Ticket.Escalated,
		&snap.Ticket.Version,
		&snap.Ticket.CreatedAt,
		&snap.Ticket.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrTicketNotFound
		}
		return Snapshot{}, fmt.Errorf("ticket: select ticket: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, ticket_id, sender, content, decision, created_at
		FROM interactions
		WHERE ticket_id = $1
		ORDER BY created_at, id
	`, ticketID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("ticket: select interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var in Interaction
		var decision []byte
		if err := rows.Scan(&in.ID, &in.TicketID, &in.Sender, &in.Content, &decision, &in.CreatedAt); err != nil {
			return Snapshot{}, fmt.Errorf("ticket: scan interaction: %w", err)
		}
		if len(decision) > 0 {
			var meta DecisionMetadata
			if err := json.Unmarshal(decision, &meta); err != nil {
				return Snapshot{}, fmt.Errorf("ticket: decode decision metadata: %w", err)
			}
			in.Decision = &meta
		}
		snap.History = append(snap.History, in)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("ticket: iterate interactions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("ticket: commit snapshot: %w", err)
	}
	return snap, nil
}

// Commit applies the patch and the new interactions in one transaction.
// The UPDATE only matches when the stored version equals expectedVersion;
// zero rows affected means another writer got there first.
func (s *PostgresStore) Commit(ctx context.Context, ticketID uuid.UUID, expectedVersion int64, patch Patch, interactions []Interaction) (Ticket, error) {
	if err := patch.Validate(); err != nil {
		return Ticket{}, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Ticket{}, fmt.Errorf("ticket: begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	var committed Ticket
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $3,
		    priority = $4,
		    category = $5,
		    sentiment = $6,
		    escalated = escalated OR $7,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING id, org_id, subject, status, priority, category, sentiment,
		          escalated, version, created_at, updated_at
	`, ticketID, expectedVersion, patch.Status, patch.Priority, patch.Category, patch.Sentiment, patch.Escalated)
	if err := row.Scan(
		&committed.ID,
		&committed.OrgID,
		&committed.Subject,
		&committed.Status,
		&committed.Priority,
		&committed.Category,
		&committed.Sentiment,
		&committed.Escalated,
		&committed.Version,
		&committed.CreatedAt,
		&committed.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ticket{}, s.classifyMiss(ctx, tx, ticketID)
		}
		return Ticket{}, fmt.Errorf("ticket: conditional update: %w", err)
	}

	for _, in := range interactions {
		id := in.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		var decision []byte
		if in.Decision != nil {
			decision, err = json.Marshal(in.Decision)
			if err != nil {
				return Ticket{}, fmt.Errorf("ticket: encode decision metadata: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO interactions (id, ticket_id, sender, content, decision, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
		`, id, ticketID, in.Sender, in.Content, decision); err != nil {
			return Ticket{}, fmt.Errorf("ticket: insert interaction: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Ticket{}, fmt.Errorf("ticket: commit: %w", err)
	}
	return committed, nil
}

// classifyMiss distinguishes a lost version race from a missing ticket.
func (s *PostgresStore) classifyMiss(ctx context.Context, tx pgx.Tx, ticketID uuid.UUID) error {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT true FROM tickets WHERE id = $1`, ticketID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTicketNotFound
	}
	if err != nil {
		return fmt.Errorf("ticket: conflict check: %w", err)
	}
	return ErrVersionConflict
}
