// Package llm abstracts the inference providers the pipeline stages
// call through the circuit breaker.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a prompt conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage reports provider-metered token counts.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Request is a single-shot completion request.
type Request struct {
	Model       string
	System      []string
	Messages    []Message
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// Response is the provider's completion.
type Response struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// Client is implemented by each inference provider. Callers never reach
// a Client directly; every call goes through a breaker.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
