// Package pipeline runs the fixed stage sequence over a ticket and
// commits the result as one optimistic transaction.
package pipeline

import (
	"context"

	"github.com/resolvd/support-ai-platform/internal/escalation"
	"github.com/resolvd/support-ai-platform/internal/tenancy"
	"github.com/resolvd/support-ai-platform/internal/ticket"
)

// StageResult is the transient outcome of one stage. Degraded marks
// that a fallback path, not inference, produced the data.
type StageResult struct {
	Success  bool
	Degraded bool
	Data     map[string]any
}

// RunContext is the shared in-memory state of one pipeline run. Stages
// mutate the working ticket copy and append pending interactions;
// nothing touches storage until the orchestrator commits.
type RunContext struct {
	Ticket  ticket.Ticket
	History []ticket.Interaction
	Tenant  *tenancy.Config

	Team             string
	Answer           string
	Confidence       float64
	ResolveDegraded  bool
	SuppressDelivery bool
	Verdict          escalation.Verdict

	interactions []ticket.Interaction
}

func newRunContext(snap ticket.Snapshot, cfg *tenancy.Config) *RunContext {
	return &RunContext{
		Ticket:  snap.Ticket,
		History: snap.History,
		Tenant:  cfg,
	}
}

// AppendInteraction queues an interaction for the final commit.
func (rc *RunContext) AppendInteraction(in ticket.Interaction) {
	rc.interactions = append(rc.interactions, in)
}

// PendingInteractions returns the interactions queued so far.
func (rc *RunContext) PendingInteractions() []ticket.Interaction {
	return rc.interactions
}

// LastCustomerMessage returns the newest customer entry in the history,
// or the empty string when there is none.
func (rc *RunContext) LastCustomerMessage() string {
	for i := len(rc.History) - 1; i >= 0; i-- {
		if rc.History[i].Sender == ticket.SenderCustomer {
			return rc.History[i].Content
		}
	}
	return ""
}

// Stage is one unit of the fixed pipeline. Execute never returns an
// error: failures of the external call are absorbed at the breaker
// boundary and surface only as a degraded result.
type Stage interface {
	Name() string
	Execute(ctx context.Context, rc *RunContext) StageResult
}
