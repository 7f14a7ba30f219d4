package ticket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the storage collaborator for the pipeline. Snapshot must return
// a consistent view; Commit must apply the patch and the new interactions
// all-or-nothing, and only if the stored version still equals
// expectedVersion (which also advances it by one).
type Store interface {
	Snapshot(ctx context.Context, ticketID uuid.UUID) (Snapshot, error)
	Commit(ctx context.Context, ticketID uuid.UUID, expectedVersion int64, patch Patch, interactions []Interaction) (Ticket, error)
}

// MemoryStore is an in-memory Store used in development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	tickets map[uuid.UUID]*memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	ticket  Ticket
	history []Interaction
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets: make(map[uuid.UUID]*memoryRecord),
		now:     time.Now,
	}
}

// Seed inserts a ticket with its history, replacing any previous state.
func (s *MemoryStore) Seed(t Ticket, history []Interaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = &memoryRecord{
		ticket:  t,
		history: append([]Interaction(nil), history...),
	}
}

// Snapshot returns a copy of the ticket and history at the current version.
func (s *MemoryStore) Snapshot(ctx context.Context, ticketID uuid.UUID) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tickets[ticketID]
	if !ok {
		return Snapshot{}, ErrTicketNotFound
	}

	return Snapshot{
		Ticket:  rec.ticket,
		History: append([]Interaction(nil), rec.history...),
	}, nil
}

// Commit applies the patch and appends interactions if and only if the
// stored version still matches expectedVersion.
func (s *MemoryStore) Commit(ctx context.Context, ticketID uuid.UUID, expectedVersion int64, patch Patch, interactions []Interaction) (Ticket, error) {
	if err := patch.Validate(); err != nil {
		return Ticket{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tickets[ticketID]
	if !ok {
		return Ticket{}, ErrTicketNotFound
	}
	if rec.ticket.Version != expectedVersion {
		return Ticket{}, ErrVersionConflict
	}

	now := s.now()
	rec.ticket.Status = patch.Status
	rec.ticket.Priority = patch.Priority
	rec.ticket.Category = patch.Category
	rec.ticket.Sentiment = patch.Sentiment
	// Sticky: a commit can set escalated but never clear it.
	rec.ticket.Escalated = rec.ticket.Escalated || patch.Escalated
	rec.ticket.Version++
	rec.ticket.UpdatedAt = now

	for _, in := range interactions {
		if in.ID == uuid.Nil {
			in.ID = uuid.New()
		}
		in.TicketID = ticketID
		if in.CreatedAt.IsZero() {
			in.CreatedAt = now
		}
		rec.history = append(rec.history, in)
	}

	return rec.ticket, nil
}

var _ Store = (*MemoryStore)(nil)
