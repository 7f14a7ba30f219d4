package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resolvd/support-ai-platform/internal/breaker"
	"github.com/resolvd/support-ai-platform/internal/escalation"
	"github.com/resolvd/support-ai-platform/internal/llm"
	"github.com/resolvd/support-ai-platform/internal/tenancy"
	"github.com/resolvd/support-ai-platform/internal/ticket"
)

func testBreaker(name string) *breaker.Breaker {
	return breaker.New(name, breaker.Config{}, nil)
}

func testRunContext() *RunContext {
	now := time.Now()
	snap := ticket.Snapshot{
		Ticket: ticket.Ticket{
			ID:        uuid.New(),
			OrgID:     "org-1",
			Subject:   "cannot log in after password reset",
			Status:    ticket.StatusOpen,
			Priority:  ticket.PriorityMedium,
			Category:  "general",
			Version:   1,
			CreatedAt: now.Add(-time.Hour),
			UpdatedAt: now.Add(-time.Hour),
		},
		History: []ticket.Interaction{
			{ID: uuid.New(), Sender: ticket.SenderCustomer, Content: "I reset my password and now I am locked out", CreatedAt: now.Add(-time.Hour)},
		},
	}
	return newRunContext(snap, tenancy.DefaultConfig("org-1"))
}

func TestTriageStageAppliesModelDecision(t *testing.T) {
	client := llm.NewScriptedClient(llm.Response{Text: `{"priority":"high","category":"account","sentiment":-0.2}`})
	stage := NewTriageStage(client, testBreaker("completion"), "test-model", time.Second, nil)

	rc := testRunContext()
	result := stage.Execute(context.Background(), rc)

	assert.True(t, result.Success)
	assert.False(t, result.Degraded)
	assert.Equal(t, ticket.PriorityHigh, rc.Ticket.Priority)
	assert.Equal(t, "account", rc.Ticket.Category)
	assert.Equal(t, -0.2, rc.Ticket.Sentiment)
}

func TestTriageStageFallsBackToKeywords(t *testing.T) {
	client := llm.NewScriptedClient()
	client.Fail(errors.New("inference down"))
	stage := NewTriageStage(client, testBreaker("completion"), "test-model", time.Second, nil)

	rc := testRunContext()
	result := stage.Execute(context.Background(), rc)

	assert.True(t, result.Success)
	assert.True(t, result.Degraded)
	// "password" and "locked out" route to the account category.
	assert.Equal(t, "account", rc.Ticket.Category)
}

func TestKeywordTriageCategoryPrecedenceIsStable(t *testing.T) {
	rc := testRunContext()
	// Matches both billing ("refund") and account ("password"); billing
	// wins every time, regardless of map iteration order.
	rc.Ticket.Subject = "refund after a password mixup"
	rc.Ticket.Category = ""
	rc.History = nil

	for i := 0; i < 20; i++ {
		decision, err := parseTriage(keywordTriage(rc))
		require.NoError(t, err)
		assert.Equal(t, "billing", decision.Category)
	}
}

func TestTriageStageUnparseableOutputIsDegraded(t *testing.T) {
	// Unparseable model output counts as an operation failure, so the
	// keyword fallback supplies the decision.
	client := llm.NewScriptedClient(llm.Response{Text: "I think this is probably high priority?"})
	stage := NewTriageStage(client, testBreaker("completion"), "test-model", time.Second, nil)

	rc := testRunContext()
	result := stage.Execute(context.Background(), rc)

	assert.True(t, result.Success)
	assert.True(t, result.Degraded)
}

func TestTriageStageClampsSentiment(t *testing.T) {
	client := llm.NewScriptedClient(llm.Response{Text: `{"priority":"low","category":"general","sentiment":-3.5}`})
	stage := NewTriageStage(client, testBreaker("completion"), "test-model", time.Second, nil)

	rc := testRunContext()
	stage.Execute(context.Background(), rc)
	assert.Equal(t, -1.0, rc.Ticket.Sentiment)
}

func TestRouteStageAssignsTeam(t *testing.T) {
	stage := NewRouteStage(nil)
	rc := testRunContext()
	rc.Ticket.Category = "billing"

	result := stage.Execute(context.Background(), rc)
	assert.True(t, result.Success)
	assert.False(t, result.Degraded)
	assert.Equal(t, "billing-team", rc.Team)
	assert.Equal(t, ticket.StatusInProgress, rc.Ticket.Status)
}

func TestRouteStageUnknownCategoryUsesDefaultTeam(t *testing.T) {
	stage := NewRouteStage(nil)
	rc := testRunContext()
	rc.Ticket.Category = "mystery"

	stage.Execute(context.Background(), rc)
	assert.Equal(t, rc.Tenant.DefaultTeam, rc.Team)
}

func TestResolveStageAppliesModelAnswer(t *testing.T) {
	client := llm.NewScriptedClient(llm.Response{Text: `{"answer":"Use the reset link we just sent.","confidence":0.92}`})
	stage := NewResolveStage(client, testBreaker("completion"), "test-model", time.Second, nil)

	rc := testRunContext()
	result := stage.Execute(context.Background(), rc)

	assert.True(t, result.Success)
	assert.False(t, result.Degraded)
	assert.Equal(t, "Use the reset link we just sent.", rc.Answer)
	assert.Equal(t, 0.92, rc.Confidence)
	assert.False(t, rc.ResolveDegraded)
}

func TestResolveStageDegradedConfidenceCapped(t *testing.T) {
	client := llm.NewScriptedClient()
	client.Fail(errors.New("inference down"))
	stage := NewResolveStage(client, testBreaker("completion"), "test-model", time.Second, nil)

	rc := testRunContext()
	rc.Team = "identity-team"
	result := stage.Execute(context.Background(), rc)

	assert.True(t, result.Success)
	assert.True(t, result.Degraded)
	assert.True(t, rc.ResolveDegraded)
	assert.NotEmpty(t, rc.Answer)
	assert.LessOrEqual(t, rc.Confidence, degradedConfidenceCap)
}

func TestEscalateStageEscalatesAndSuppressesDelivery(t *testing.T) {
	engine := escalation.NewEngine(nil, nil, "", time.Second, nil)
	stage := NewEscalateStage(engine, nil)

	rc := testRunContext()
	rc.Team = "identity-team"
	rc.Ticket.Sentiment = -0.9
	rc.Answer = "canned reply"
	rc.Confidence = 0.9

	result := stage.Execute(context.Background(), rc)

	assert.True(t, result.Success)
	assert.True(t, rc.Ticket.Escalated)
	assert.Equal(t, ticket.StatusEscalated, rc.Ticket.Status)
	assert.True(t, rc.SuppressDelivery)

	// The only pending interaction is the system escalation note.
	pending := rc.PendingInteractions()
	require.Len(t, pending, 1)
	assert.Equal(t, ticket.SenderSystem, pending[0].Sender)
	require.NotNil(t, pending[0].Decision)
	assert.Equal(t, "escalate", pending[0].Decision.DecisionType)
	assert.Contains(t, pending[0].Decision.Factors, escalation.ReasonSentiment)
}

func TestEscalateStageAutoResolvesOnHighConfidence(t *testing.T) {
	engine := escalation.NewEngine(nil, nil, "", time.Second, nil)
	stage := NewEscalateStage(engine, nil)

	rc := testRunContext()
	rc.Answer = "Use the reset link we just sent."
	rc.Confidence = 0.92

	stage.Execute(context.Background(), rc)

	assert.False(t, rc.Ticket.Escalated)
	assert.Equal(t, ticket.StatusResolved, rc.Ticket.Status)
	pending := rc.PendingInteractions()
	require.Len(t, pending, 1)
	assert.Equal(t, ticket.SenderAssistant, pending[0].Sender)
	assert.Equal(t, "Use the reset link we just sent.", pending[0].Content)
}

func TestEscalateStageMidConfidenceStaysInProgress(t *testing.T) {
	engine := escalation.NewEngine(nil, nil, "", time.Second, nil)
	stage := NewEscalateStage(engine, nil)

	rc := testRunContext()
	rc.Answer = "Try clearing your cache."
	rc.Confidence = 0.7

	stage.Execute(context.Background(), rc)

	assert.False(t, rc.Ticket.Escalated)
	assert.Equal(t, ticket.StatusInProgress, rc.Ticket.Status)
}

func TestEscalateStageStickyFlagSuppressesDelivery(t *testing.T) {
	engine := escalation.NewEngine(nil, nil, "", time.Second, nil)
	stage := NewEscalateStage(engine, nil)

	rc := testRunContext()
	rc.Ticket.Escalated = true
	rc.Answer = "Use the reset link we just sent."
	rc.Confidence = 0.95

	stage.Execute(context.Background(), rc)

	assert.True(t, rc.Ticket.Escalated)
	assert.Equal(t, ticket.StatusEscalated, rc.Ticket.Status)
	assert.True(t, rc.SuppressDelivery)
	assert.Empty(t, rc.PendingInteractions())
}
