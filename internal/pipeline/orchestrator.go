package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/resolvd/support-ai-platform/internal/notify"
	"github.com/resolvd/support-ai-platform/internal/observability/metrics"
	"github.com/resolvd/support-ai-platform/internal/tenancy"
	"github.com/resolvd/support-ai-platform/internal/ticket"
	"github.com/resolvd/support-ai-platform/pkg/logging"
)

var tracer = otel.Tracer("support/pipeline")

// Auditor records terminal pipeline events. Satisfied by
// audit.Service; nil disables auditing.
type Auditor interface {
	RecordValidationFailure(ctx context.Context, orgID, ticketID string, cause error) error
	RecordConflictExhausted(ctx context.Context, orgID, ticketID string, attempts int) error
	RecordEscalation(ctx context.Context, orgID, ticketID string, reasons []string, confidence float64, advisory bool) error
}

// Orchestrator runs the fixed stage sequence over one ticket as a
// single optimistic transaction: snapshot, stages, conditional commit,
// bounded retry on version conflict.
type Orchestrator struct {
	store      ticket.Store
	tenants    tenancy.Provider
	stages     []Stage
	maxRetries int
	logger     *logging.Logger
	metrics    *metrics.PipelineMetrics
	auditor    Auditor
	notifier   notify.EscalationNotifier
	now        func() time.Time
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxRetries bounds commit attempts per run (minimum 1).
func WithMaxRetries(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.maxRetries = n
		}
	}
}

// WithMetrics wires pipeline metrics.
func WithMetrics(m *metrics.PipelineMetrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithAuditor wires the audit trail.
func WithAuditor(a Auditor) OrchestratorOption {
	return func(o *Orchestrator) { o.auditor = a }
}

// WithNotifier wires the escalation notifier.
func WithNotifier(n notify.EscalationNotifier) OrchestratorOption {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator over the given stages, run
// strictly in the order supplied.
func NewOrchestrator(store ticket.Store, tenants tenancy.Provider, stages []Stage, logger *logging.Logger, opts ...OrchestratorOption) *Orchestrator {
	if store == nil {
		panic("pipeline: store required")
	}
	if tenants == nil {
		panic("pipeline: tenant provider required")
	}
	if len(stages) == 0 {
		panic("pipeline: at least one stage required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	o := &Orchestrator{
		store:      store,
		tenants:    tenants,
		stages:     stages,
		maxRetries: 3,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one full pipeline pass for the ticket and returns its
// committed state. On version conflict the accumulated writes are
// discarded and the whole run restarts from a fresh snapshot, up to
// the retry bound; exhaustion surfaces ErrVersionConflict. Validation
// failures abort immediately and leave the ticket unmodified.
func (o *Orchestrator) Run(ctx context.Context, ticketID uuid.UUID) (ticket.Ticket, error) {
	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("ticket.id", ticketID.String()))

	start := o.now()

	for attempt := 1; attempt <= o.maxRetries; attempt++ {
		snap, err := o.store.Snapshot(ctx, ticketID)
		if err != nil {
			o.observeRun("snapshot_failed", start)
			return ticket.Ticket{}, fmt.Errorf("pipeline: snapshot: %w", err)
		}

		if err := snap.Ticket.Validate(); err != nil {
			o.observeRun("validation_failed", start)
			o.auditValidationFailure(ctx, snap.Ticket, err)
			return ticket.Ticket{}, err
		}

		// Downstream audit writes and log lines read the owning org from
		// context.
		ctx = tenancy.WithOrgID(ctx, snap.Ticket.OrgID)

		cfg, err := o.tenants.Get(ctx, snap.Ticket.OrgID)
		if err != nil {
			o.observeRun("tenant_config_failed", start)
			return ticket.Ticket{}, fmt.Errorf("pipeline: tenant config: %w", err)
		}

		wasEscalated := snap.Ticket.Escalated
		rc := newRunContext(snap, cfg)

		for _, stage := range o.stages {
			result := stage.Execute(ctx, rc)
			if result.Degraded {
				o.metrics.ObserveDegradedStage(stage.Name())
			}
		}

		patch := ticket.Patch{
			Status:    rc.Ticket.Status,
			Priority:  rc.Ticket.Priority,
			Category:  rc.Ticket.Category,
			Sentiment: rc.Ticket.Sentiment,
			Escalated: rc.Ticket.Escalated,
		}

		committed, err := o.store.Commit(ctx, ticketID, snap.Ticket.Version, patch, rc.PendingInteractions())
		if errors.Is(err, ticket.ErrVersionConflict) {
			o.metrics.ObserveConflict()
			o.logger.Warn("commit lost version race, retrying from fresh snapshot",
				"ticket_id", ticketID.String(),
				"attempt", attempt,
			)
			continue
		}
		if errors.Is(err, ticket.ErrInvalidTicket) {
			o.observeRun("validation_failed", start)
			o.auditValidationFailure(ctx, snap.Ticket, err)
			return ticket.Ticket{}, err
		}
		if err != nil {
			o.observeRun("commit_failed", start)
			return ticket.Ticket{}, fmt.Errorf("pipeline: commit: %w", err)
		}

		span.SetAttributes(
			attribute.Int("pipeline.attempts", attempt),
			attribute.Bool("pipeline.escalated", committed.Escalated),
		)
		o.metrics.ObserveCommitAttempts(attempt)
		o.observeRun("committed", start)

		if rc.Verdict.ShouldEscalate {
			for _, reason := range rc.Verdict.Reasons {
				o.metrics.ObserveEscalation(reason)
			}
			o.auditEscalation(ctx, committed, rc)
		}
		if !wasEscalated && committed.Escalated {
			o.notifyEscalation(ctx, committed, rc)
		}

		return committed, nil
	}

	o.observeRun("conflict_exhausted", start)
	o.auditConflictExhausted(ctx, ticketID)
	return ticket.Ticket{}, fmt.Errorf("pipeline: %d commit attempts exhausted: %w", o.maxRetries, ticket.ErrVersionConflict)
}

func (o *Orchestrator) observeRun(outcome string, start time.Time) {
	o.metrics.ObserveRun(outcome, o.now().Sub(start).Seconds())
}

func (o *Orchestrator) auditValidationFailure(ctx context.Context, t ticket.Ticket, cause error) {
	if o.auditor == nil {
		return
	}
	if err := o.auditor.RecordValidationFailure(ctx, t.OrgID, t.ID.String(), cause); err != nil {
		o.logger.Error("audit write failed", "error", err.Error())
	}
}

func (o *Orchestrator) auditConflictExhausted(ctx context.Context, ticketID uuid.UUID) {
	if o.auditor == nil {
		return
	}
	orgID, _ := tenancy.OrgIDFromContext(ctx)
	if err := o.auditor.RecordConflictExhausted(ctx, orgID, ticketID.String(), o.maxRetries); err != nil {
		o.logger.Error("audit write failed", "error", err.Error())
	}
}

func (o *Orchestrator) auditEscalation(ctx context.Context, t ticket.Ticket, rc *RunContext) {
	if o.auditor == nil {
		return
	}
	if err := o.auditor.RecordEscalation(ctx, t.OrgID, t.ID.String(), rc.Verdict.Reasons, rc.Verdict.Confidence, rc.Verdict.AdvisoryUsed); err != nil {
		o.logger.Error("audit write failed", "error", err.Error())
	}
}

// notifyEscalation fires after a successful commit. Delivery failure is
// logged, never propagated: the escalation itself is already durable.
func (o *Orchestrator) notifyEscalation(ctx context.Context, t ticket.Ticket, rc *RunContext) {
	if o.notifier == nil {
		return
	}
	recipient := rc.Tenant.EscalationEmail
	if recipient == "" {
		return
	}
	if err := o.notifier.NotifyEscalation(ctx, t, rc.Verdict.Reasons, recipient); err != nil {
		o.logger.Error("escalation notification failed",
			"ticket_id", t.ID.String(),
			"error", err.Error(),
		)
	}
}
