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

// degradedConfidenceCap bounds the confidence of any fallback answer.
// It sits below every sane min_confidence threshold, so a degraded
// resolve trips the low-confidence escalation rule on its own.
const degradedConfidenceCap = 0.3

// ResolveStage drafts the customer-facing answer with a confidence
// score. The degraded path is a static template.
type ResolveStage struct {
	client  llm.Client
	breaker *breaker.Breaker
	model   string
	timeout time.Duration
	logger  *logging.Logger
}

func NewResolveStage(client llm.Client, brk *breaker.Breaker, model string, timeout time.Duration, logger *logging.Logger) *ResolveStage {
	if client == nil {
		panic("pipeline: resolve llm client required")
	}
	if brk == nil {
		panic("pipeline: resolve breaker required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &ResolveStage{client: client, breaker: brk, model: model, timeout: timeout, logger: logger}
}

func (s *ResolveStage) Name() string { return "resolve" }

type resolveDecision struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

func (s *ResolveStage) Execute(ctx context.Context, rc *RunContext) StageResult {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.breaker.Execute(callCtx, func(ctx context.Context) (string, error) {
		resp, err := s.client.Complete(ctx, llm.Request{
			Model: s.model,
			System: []string{
				"Draft a reply to the customer and rate your confidence. " +
					`Respond with JSON only: {"answer":"<reply>","confidence":<0..1>}`,
			},
			Messages:    resolveMessages(rc),
			MaxTokens:   1024,
			Temperature: 0.3,
		})
		if err != nil {
			return "", err
		}
		if _, err := parseResolve(resp.Text); err != nil {
			return "", err
		}
		return resp.Text, nil
	}, func(ctx context.Context, cause error) (string, error) {
		return templateAnswer(rc), nil
	})
	if err != nil {
		s.logger.Error("resolve produced no answer", "error", err.Error())
		rc.Answer = ""
		rc.Confidence = 0
		rc.ResolveDegraded = true
		return StageResult{Success: true, Degraded: true, Data: map[string]any{}}
	}

	decision, parseErr := parseResolve(result.Text)
	if parseErr != nil {
		s.logger.Warn("resolve output unparseable, using template", "error", parseErr.Error())
		decision, _ = parseResolve(templateAnswer(rc))
		result.Degraded = true
	}

	if result.Degraded && decision.Confidence > degradedConfidenceCap {
		decision.Confidence = degradedConfidenceCap
	}

	rc.Answer = decision.Answer
	rc.Confidence = decision.Confidence
	rc.ResolveDegraded = result.Degraded

	return StageResult{
		Success:  true,
		Degraded: result.Degraded,
		Data: map[string]any{
			"answer":     decision.Answer,
			"confidence": decision.Confidence,
		},
	}
}

func resolveMessages(rc *RunContext) []llm.Message {
	messages := make([]llm.Message, 0, len(rc.History)+1)
	messages = append(messages, llm.Message{
		Role: llm.RoleUser,
		Content: fmt.Sprintf("Ticket subject: %s\nCategory: %s\nAssigned team: %s",
			rc.Ticket.Subject, rc.Ticket.Category, rc.Team),
	})
	for _, in := range rc.History {
		role := llm.RoleUser
		if in.Sender == ticket.SenderAssistant || in.Sender == ticket.SenderAgent {
			role = llm.RoleAssistant
		}
		if in.Sender == ticket.SenderSystem {
			continue
		}
		messages = append(messages, llm.Message{Role: role, Content: in.Content})
	}
	return messages
}

func parseResolve(text string) (resolveDecision, error) {
	var d resolveDecision
	if err := json.Unmarshal([]byte(extractJSON(text)), &d); err != nil {
		return resolveDecision{}, fmt.Errorf("pipeline: decode resolve output: %w", err)
	}
	if strings.TrimSpace(d.Answer) == "" {
		return resolveDecision{}, fmt.Errorf("pipeline: resolve returned empty answer")
	}
	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}
	return d, nil
}

// templateAnswer is the deterministic fallback, confidence pinned at
// the degraded cap.
func templateAnswer(rc *RunContext) string {
	decision := resolveDecision{
		Answer: fmt.Sprintf(
			"Thanks for reaching out about %q. Your ticket has been assigned to our %s team and a specialist will follow up shortly.",
			rc.Ticket.Subject, rc.Team,
		),
		Confidence: degradedConfidenceCap,
	}
	encoded, _ := json.Marshal(decision)
	return string(encoded)
}
