package ticket

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a ticket.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusEscalated  Status = "escalated"
	StatusResolved   Status = "resolved"
)

// Priority represents the urgency level of a ticket.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Sender identifies who produced an interaction.
type Sender string

const (
	SenderCustomer  Sender = "customer"
	SenderAssistant Sender = "assistant"
	SenderAgent     Sender = "agent"
	SenderSystem    Sender = "system"
)

// Ticket is the mutable support-ticket document. Version increases by
// exactly one per committed write and is the sole concurrency guard.
// Escalated is sticky: once true the pipeline never clears it; only an
// external human action may.
type Ticket struct {
	ID        uuid.UUID
	OrgID     string
	Subject   string
	Status    Status
	Priority  Priority
	Category  string
	Sentiment float64
	Escalated bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DecisionMetadata captures why an automated decision was made. Attached to
// the interaction that records the decision, for audit and explanation.
type DecisionMetadata struct {
	Confidence   float64  `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
	DecisionType string   `json:"decision_type"`
	Factors      []string `json:"factors,omitempty"`
}

// Interaction is one append-only entry in a ticket's history. Never mutated
// after creation.
type Interaction struct {
	ID        uuid.UUID
	TicketID  uuid.UUID
	Sender    Sender
	Content   string
	Decision  *DecisionMetadata
	CreatedAt time.Time
}

// Patch carries the mutable ticket fields a pipeline run wants to commit.
// The store applies it together with new interactions in one conditional
// write.
type Patch struct {
	Status    Status
	Priority  Priority
	Category  string
	Sentiment float64
	Escalated bool
}

// Snapshot is a consistent read of a ticket and its full history at one
// version.
type Snapshot struct {
	Ticket  Ticket
	History []Interaction
}

var validStatuses = map[Status]bool{
	StatusOpen:       true,
	StatusInProgress: true,
	StatusEscalated:  true,
	StatusResolved:   true,
}

var validPriorities = map[Priority]bool{
	PriorityLow:      true,
	PriorityMedium:   true,
	PriorityHigh:     true,
	PriorityCritical: true,
}

// Validate checks the structural invariants a pipeline run depends on.
func (t *Ticket) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidTicket)
	}
	if t.OrgID == "" {
		return fmt.Errorf("%w: missing org id", ErrInvalidTicket)
	}
	if !validStatuses[t.Status] {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTicket, t.Status)
	}
	if !validPriorities[t.Priority] {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidTicket, t.Priority)
	}
	if t.Version < 0 {
		return fmt.Errorf("%w: negative version %d", ErrInvalidTicket, t.Version)
	}
	return nil
}

// Validate rejects patches that would commit an unknown status or priority.
func (p Patch) Validate() error {
	if !validStatuses[p.Status] {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTicket, p.Status)
	}
	if !validPriorities[p.Priority] {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidTicket, p.Priority)
	}
	return nil
}
