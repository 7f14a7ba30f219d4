package pipeline

import (
	"context"

	"github.com/resolvd/support-ai-platform/internal/ticket"
	"github.com/resolvd/support-ai-platform/pkg/logging"
)

// RouteStage assigns the owning team from the tenant's routing table.
// Fully deterministic, no external call, so it is never degraded.
type RouteStage struct {
	logger *logging.Logger
}

func NewRouteStage(logger *logging.Logger) *RouteStage {
	if logger == nil {
		logger = logging.Default()
	}
	return &RouteStage{logger: logger}
}

func (s *RouteStage) Name() string { return "route" }

func (s *RouteStage) Execute(ctx context.Context, rc *RunContext) StageResult {
	rc.Team = rc.Tenant.TeamFor(rc.Ticket.Category)
	if rc.Ticket.Status == ticket.StatusOpen {
		rc.Ticket.Status = ticket.StatusInProgress
	}

	s.logger.Debug("ticket routed",
		"ticket_id", rc.Ticket.ID.String(),
		"category", rc.Ticket.Category,
		"team", rc.Team,
	)

	return StageResult{
		Success: true,
		Data: map[string]any{
			"team":     rc.Team,
			"category": rc.Ticket.Category,
		},
	}
}
