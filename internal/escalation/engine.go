// Package escalation decides whether a ticket needs a human. The rule
// evaluation is a pure function; an optional advisory inference call
// rides behind the circuit breaker and can only add an escalation.
package escalation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/resolvd/support-ai-platform/internal/breaker"
	"github.com/resolvd/support-ai-platform/internal/llm"
	"github.com/resolvd/support-ai-platform/internal/tenancy"
	"github.com/resolvd/support-ai-platform/internal/ticket"
	"github.com/resolvd/support-ai-platform/pkg/logging"
)

var tracer = otel.Tracer("support/escalation")

// Reason identifiers, stable for audit records and dashboards.
const (
	ReasonInteractionLimit = "critical_interaction_limit"
	ReasonSentiment        = "negative_sentiment"
	ReasonLowConfidence    = "low_resolver_confidence"
	ReasonSLABreach        = "sla_breach"
	ReasonAdvisory         = "advisory_vote"
)

// Signals are the inputs the rules evaluate, gathered by the pipeline
// from the snapshot and the earlier stage results.
type Signals struct {
	Priority         ticket.Priority
	Sentiment        float64
	Confidence       float64
	InteractionCount int
	TicketAge        time.Duration
	Subject          string
}

// Verdict is the engine's decision for one pipeline run. Terminal: once
// ShouldEscalate is true no later stage may clear it.
type Verdict struct {
	ShouldEscalate   bool
	Reasons          []string
	Confidence       float64
	AdvisoryUsed     bool
	AdvisoryDegraded bool
}

// Decide evaluates every rule independently and collects every matching
// reason. No short-circuiting: the full reason list is needed for audit
// and explanation.
func Decide(signals Signals, th tenancy.Thresholds) Verdict {
	var reasons []string

	if signals.Priority == ticket.PriorityCritical && signals.InteractionCount > th.MaxInteractions {
		reasons = append(reasons, ReasonInteractionLimit)
	}
	if signals.Sentiment < th.SentimentThreshold {
		reasons = append(reasons, ReasonSentiment)
	}
	if signals.Confidence < th.MinConfidence {
		reasons = append(reasons, ReasonLowConfidence)
	}
	if signals.TicketAge > time.Duration(th.SLAHours)*time.Hour {
		reasons = append(reasons, ReasonSLABreach)
	}

	return Verdict{
		ShouldEscalate: len(reasons) > 0,
		Reasons:        reasons,
		Confidence:     signals.Confidence,
	}
}

// Engine combines the rules with the optional advisory inference call.
type Engine struct {
	advisor llm.Client
	breaker *breaker.Breaker
	model   string
	timeout time.Duration
	logger  *logging.Logger
}

// NewEngine creates an engine. A nil advisor disables the advisory
// call; the rules still run.
func NewEngine(advisor llm.Client, brk *breaker.Breaker, model string, timeout time.Duration, logger *logging.Logger) *Engine {
	if advisor != nil && brk == nil {
		panic("escalation: advisory client requires a breaker")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{
		advisor: advisor,
		breaker: brk,
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

// Evaluate runs the rules and, only when no rule fired, asks the
// advisor for a soft opinion. The advisory vote can add an escalation
// but never turn a rule-driven decision around; a degraded advisory
// answer is ignored entirely.
func (e *Engine) Evaluate(ctx context.Context, signals Signals, cfg *tenancy.Config) Verdict {
	ctx, span := tracer.Start(ctx, "escalation.evaluate")
	defer span.End()

	verdict := Decide(signals, cfg.Thresholds)
	span.SetAttributes(
		attribute.Bool("escalation.rules_fired", verdict.ShouldEscalate),
		attribute.Int("escalation.reason_count", len(verdict.Reasons)),
	)
	if verdict.ShouldEscalate || e.advisor == nil {
		return verdict
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.breaker.Execute(ctx, func(ctx context.Context) (string, error) {
		resp, err := e.advisor.Complete(ctx, llm.Request{
			Model:       e.model,
			System:      []string{advisorySystemPrompt(cfg)},
			Messages:    []llm.Message{{Role: llm.RoleUser, Content: advisoryPrompt(signals)}},
			MaxTokens:   16,
			Temperature: 0,
		})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	}, func(ctx context.Context, cause error) (string, error) {
		return "CONTINUE", nil
	})
	if err != nil {
		e.logger.Warn("advisory escalation call failed outright",
			"error", err.Error(),
		)
		return verdict
	}

	verdict.AdvisoryUsed = true
	verdict.AdvisoryDegraded = result.Degraded
	span.SetAttributes(attribute.Bool("escalation.advisory_degraded", result.Degraded))

	// A degraded answer is the fallback's, not the model's. It carries no
	// signal and must never escalate.
	if result.Degraded {
		return verdict
	}

	if advisoryVotesEscalate(result.Text) {
		verdict.ShouldEscalate = true
		verdict.Reasons = append(verdict.Reasons, ReasonAdvisory)
	}
	return verdict
}

func advisorySystemPrompt(cfg *tenancy.Config) string {
	prompt := "You review support tickets that passed every escalation rule. " +
		"Answer with exactly one word: ESCALATE if a human should take over, CONTINUE otherwise."
	if cfg != nil && strings.TrimSpace(cfg.PolicyNotes) != "" {
		prompt += "\n\nTenant policy:\n" + cfg.PolicyNotes
	}
	return prompt
}

func advisoryPrompt(signals Signals) string {
	return fmt.Sprintf(
		"Subject: %s\nPriority: %s\nSentiment: %.2f\nResolver confidence: %.2f\nInteractions: %d\nAge: %s",
		signals.Subject,
		signals.Priority,
		signals.Sentiment,
		signals.Confidence,
		signals.InteractionCount,
		signals.TicketAge.Round(time.Minute),
	)
}

func advisoryVotesEscalate(text string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(text)), "ESCALATE")
}
