package ticket

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var ticketColumns = []string{
	"id", "org_id", "subject", "status", "priority", "category", "sentiment",
	"escalated", "version", "created_at", "updated_at",
}

func TestPostgresStoreSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newPostgresStoreWithDB(mock)
	ticketID := uuid.New()
	interactionID := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, org_id, subject").WithArgs(ticketID).
		WillReturnRows(pgxmock.NewRows(ticketColumns).
			AddRow(ticketID, "org-1", "printer on fire", StatusOpen, PriorityMedium, "hardware", 0.1, false, int64(3), now, now))
	mock.ExpectQuery("SELECT id, ticket_id, sender").WithArgs(ticketID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "ticket_id", "sender", "content", "decision", "created_at"}).
			AddRow(interactionID, ticketID, SenderCustomer, "it is on fire", []byte(nil), now).
			AddRow(uuid.New(), ticketID, SenderAssistant, "acknowledged", []byte(`{"confidence":0.9,"reasoning":"clear","decision_type":"triage"}`), now))
	mock.ExpectCommit()

	snap, err := store.Snapshot(context.Background(), ticketID)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if snap.Ticket.Version != 3 || snap.Ticket.Status != StatusOpen {
		t.Fatalf("unexpected ticket: %+v", snap.Ticket)
	}
	if len(snap.History) != 2 {
		t.Fatalf("expected 2 interactions, got %d", len(snap.History))
	}
	if snap.History[0].Decision != nil {
		t.Fatalf("expected nil decision on first interaction")
	}
	if snap.History[1].Decision == nil || snap.History[1].Decision.Confidence != 0.9 {
		t.Fatalf("expected decoded decision metadata, got %+v", snap.History[1].Decision)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreSnapshotNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newPostgresStoreWithDB(mock)
	ticketID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, org_id, subject").WithArgs(ticketID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err = store.Snapshot(context.Background(), ticketID)
	if !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreCommit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newPostgresStoreWithDB(mock)
	ticketID := uuid.New()
	now := time.Now()
	patch := Patch{Status: StatusInProgress, Priority: PriorityHigh, Category: "hardware", Sentiment: -0.4}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE tickets").
		WithArgs(ticketID, int64(3), patch.Status, patch.Priority, patch.Category, patch.Sentiment, patch.Escalated).
		WillReturnRows(pgxmock.NewRows(ticketColumns).
			AddRow(ticketID, "org-1", "printer on fire", StatusInProgress, PriorityHigh, "hardware", -0.4, false, int64(4), now, now))
	mock.ExpectExec("INSERT INTO interactions").
		WithArgs(pgxmock.AnyArg(), ticketID, SenderAssistant, "try turning it off", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	committed, err := store.Commit(context.Background(), ticketID, 3, patch, []Interaction{
		{Sender: SenderAssistant, Content: "try turning it off", Decision: &DecisionMetadata{Confidence: 0.8, DecisionType: "resolve"}},
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if committed.Version != 4 || committed.Status != StatusInProgress {
		t.Fatalf("unexpected committed ticket: %+v", committed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreCommitVersionConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newPostgresStoreWithDB(mock)
	ticketID := uuid.New()
	patch := Patch{Status: StatusInProgress, Priority: PriorityMedium}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE tickets").
		WithArgs(ticketID, int64(2), patch.Status, patch.Priority, patch.Category, patch.Sentiment, patch.Escalated).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT true FROM tickets").WithArgs(ticketID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err = store.Commit(context.Background(), ticketID, 2, patch, nil)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreCommitMissingTicket(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newPostgresStoreWithDB(mock)
	ticketID := uuid.New()
	patch := Patch{Status: StatusInProgress, Priority: PriorityMedium}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE tickets").
		WithArgs(ticketID, int64(1), patch.Status, patch.Priority, patch.Category, patch.Sentiment, patch.Escalated).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT true FROM tickets").WithArgs(ticketID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err = store.Commit(context.Background(), ticketID, 1, patch, nil)
	if !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
