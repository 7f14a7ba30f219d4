package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/resolvd/support-ai-platform/internal/breaker"
	"github.com/resolvd/support-ai-platform/internal/llm"
	"github.com/resolvd/support-ai-platform/internal/ticket"
	"github.com/resolvd/support-ai-platform/pkg/logging"
)

// TriageStage classifies the ticket: priority, category, sentiment.
// The degraded path is keyword rules over subject and last message.
type TriageStage struct {
	client  llm.Client
	breaker *breaker.Breaker
	model   string
	timeout time.Duration
	logger  *logging.Logger
}

func NewTriageStage(client llm.Client, brk *breaker.Breaker, model string, timeout time.Duration, logger *logging.Logger) *TriageStage {
	if client == nil {
		panic("pipeline: triage llm client required")
	}
	if brk == nil {
		panic("pipeline: triage breaker required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &TriageStage{client: client, breaker: brk, model: model, timeout: timeout, logger: logger}
}

func (s *TriageStage) Name() string { return "triage" }

type triageDecision struct {
	Priority  string  `json:"priority"`
	Category  string  `json:"category"`
	Sentiment float64 `json:"sentiment"`
}

func (s *TriageStage) Execute(ctx context.Context, rc *RunContext) StageResult {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.breaker.Execute(callCtx, func(ctx context.Context) (string, error) {
		resp, err := s.client.Complete(ctx, llm.Request{
			Model: s.model,
			System: []string{
				"Classify the support ticket. Respond with JSON only: " +
					`{"priority":"low|medium|high|critical","category":"<one word>","sentiment":<-1..1>}`,
			},
			Messages:    []llm.Message{{Role: llm.RoleUser, Content: triagePrompt(rc)}},
			MaxTokens:   128,
			Temperature: 0,
		})
		if err != nil {
			return "", err
		}
		if _, err := parseTriage(resp.Text); err != nil {
			return "", err
		}
		return resp.Text, nil
	}, func(ctx context.Context, cause error) (string, error) {
		return keywordTriage(rc), nil
	})
	if err != nil {
		// Both paths down. Keep the snapshot's classification.
		s.logger.Error("triage produced no classification", "error", err.Error())
		return StageResult{Success: true, Degraded: true, Data: map[string]any{}}
	}

	decision, parseErr := parseTriage(result.Text)
	if parseErr != nil {
		s.logger.Warn("triage output unparseable, keeping existing fields", "error", parseErr.Error())
		return StageResult{Success: true, Degraded: true, Data: map[string]any{}}
	}

	rc.Ticket.Priority = ticket.Priority(decision.Priority)
	rc.Ticket.Category = decision.Category
	rc.Ticket.Sentiment = decision.Sentiment

	return StageResult{
		Success:  true,
		Degraded: result.Degraded,
		Data: map[string]any{
			"priority":  decision.Priority,
			"category":  decision.Category,
			"sentiment": decision.Sentiment,
		},
	}
}

func triagePrompt(rc *RunContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", rc.Ticket.Subject)
	if msg := rc.LastCustomerMessage(); msg != "" {
		fmt.Fprintf(&b, "Latest customer message: %s\n", msg)
	}
	fmt.Fprintf(&b, "Interactions so far: %d\n", len(rc.History))
	return b.String()
}

func parseTriage(text string) (triageDecision, error) {
	var d triageDecision
	if err := json.Unmarshal([]byte(extractJSON(text)), &d); err != nil {
		return triageDecision{}, fmt.Errorf("pipeline: decode triage output: %w", err)
	}
	switch ticket.Priority(d.Priority) {
	case ticket.PriorityLow, ticket.PriorityMedium, ticket.PriorityHigh, ticket.PriorityCritical:
	default:
		return triageDecision{}, fmt.Errorf("pipeline: triage returned unknown priority %q", d.Priority)
	}
	if d.Category == "" {
		return triageDecision{}, fmt.Errorf("pipeline: triage returned empty category")
	}
	if d.Sentiment < -1 {
		d.Sentiment = -1
	}
	if d.Sentiment > 1 {
		d.Sentiment = 1
	}
	return d, nil
}

// extractJSON trims prose around the first JSON object in model output.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

var urgentKeywords = []string{"outage", "down", "on fire", "data loss", "urgent", "cannot work", "security"}

// categoryOrder fixes the precedence when a message matches keywords
// from more than one category.
var categoryOrder = []string{"billing", "account", "hardware"}

var categoryKeywords = map[string][]string{
	"billing":  {"invoice", "refund", "charge", "payment", "billed"},
	"account":  {"password", "login", "locked out", "2fa", "sign in"},
	"hardware": {"printer", "device", "screen", "battery", "keyboard"},
}

var negativeKeywords = []string{"angry", "terrible", "worst", "unacceptable", "furious", "ridiculous"}

// keywordTriage is the deterministic fallback. It always yields a
// parseable decision.
func keywordTriage(rc *RunContext) string {
	text := strings.ToLower(rc.Ticket.Subject + " " + rc.LastCustomerMessage())

	decision := triageDecision{Priority: string(ticket.PriorityMedium), Category: "general", Sentiment: 0}
	switch rc.Ticket.Priority {
	case ticket.PriorityLow, ticket.PriorityMedium, ticket.PriorityHigh, ticket.PriorityCritical:
		decision.Priority = string(rc.Ticket.Priority)
	}
	if rc.Ticket.Category != "" {
		decision.Category = rc.Ticket.Category
	}

	if decision.Priority == string(ticket.PriorityLow) || decision.Priority == string(ticket.PriorityMedium) {
		for _, kw := range urgentKeywords {
			if strings.Contains(text, kw) {
				decision.Priority = string(ticket.PriorityHigh)
				break
			}
		}
	}
category:
	for _, name := range categoryOrder {
		for _, kw := range categoryKeywords[name] {
			if strings.Contains(text, kw) {
				decision.Category = name
				break category
			}
		}
	}
	for _, kw := range negativeKeywords {
		if strings.Contains(text, kw) {
			decision.Sentiment = -0.6
			break
		}
	}

	encoded, _ := json.Marshal(decision)
	return string(encoded)
}
