package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/resolvd/support-ai-platform/internal/escalation"
	"github.com/resolvd/support-ai-platform/internal/ticket"
	"github.com/resolvd/support-ai-platform/pkg/logging"
)

// EscalateStage asks the decision engine whether a human must take
// over. An escalation sets the sticky flag and suppresses delivery of
// the resolver's answer; otherwise the stage settles the final status.
type EscalateStage struct {
	engine *escalation.Engine
	logger *logging.Logger
	now    func() time.Time
}

func NewEscalateStage(engine *escalation.Engine, logger *logging.Logger) *EscalateStage {
	if engine == nil {
		panic("pipeline: escalation engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &EscalateStage{engine: engine, logger: logger, now: time.Now}
}

func (s *EscalateStage) Name() string { return "escalate" }

func (s *EscalateStage) Execute(ctx context.Context, rc *RunContext) StageResult {
	alreadyEscalated := rc.Ticket.Escalated

	signals := escalation.Signals{
		Priority:         rc.Ticket.Priority,
		Sentiment:        rc.Ticket.Sentiment,
		Confidence:       rc.Confidence,
		InteractionCount: len(rc.History),
		TicketAge:        s.now().Sub(rc.Ticket.CreatedAt),
		Subject:          rc.Ticket.Subject,
	}
	verdict := s.engine.Evaluate(ctx, signals, rc.Tenant)
	rc.Verdict = verdict

	switch {
	case verdict.ShouldEscalate:
		rc.Ticket.Escalated = true
		rc.Ticket.Status = ticket.StatusEscalated
		rc.SuppressDelivery = true
		rc.AppendInteraction(ticket.Interaction{
			Sender:  ticket.SenderSystem,
			Content: "Ticket escalated to " + rc.Team + ".",
			Decision: &ticket.DecisionMetadata{
				Confidence:   verdict.Confidence,
				Reasoning:    "escalation rules: " + strings.Join(verdict.Reasons, ", "),
				DecisionType: "escalate",
				Factors:      verdict.Reasons,
			},
		})
		s.logger.Info("ticket escalated",
			"ticket_id", rc.Ticket.ID.String(),
			"reasons", strings.Join(verdict.Reasons, ","),
		)

	case alreadyEscalated:
		// Sticky flag from an earlier run. Nothing new to deliver.
		rc.Ticket.Status = ticket.StatusEscalated
		rc.SuppressDelivery = true

	default:
		if rc.Answer != "" && rc.Confidence >= rc.Tenant.AutoResolveConfidence {
			rc.Ticket.Status = ticket.StatusResolved
		} else {
			rc.Ticket.Status = ticket.StatusInProgress
		}
		if rc.Answer != "" {
			rc.AppendInteraction(ticket.Interaction{
				Sender:  ticket.SenderAssistant,
				Content: rc.Answer,
				Decision: &ticket.DecisionMetadata{
					Confidence:   rc.Confidence,
					Reasoning:    "resolver answer delivered",
					DecisionType: "resolve",
				},
			})
		}
	}

	return StageResult{
		Success:  true,
		Degraded: verdict.AdvisoryDegraded,
		Data: map[string]any{
			"should_escalate": verdict.ShouldEscalate,
			"reasons":         verdict.Reasons,
			"status":          string(rc.Ticket.Status),
		},
	}
}
