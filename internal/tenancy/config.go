// Package tenancy provides per-organization configuration and context
// plumbing for the ticket pipeline.
package tenancy

import (
	"context"
	"strings"
	"sync"
)

// Thresholds are the escalation knobs a tenant tunes. Every rule in the
// decision engine reads exactly one of these.
type Thresholds struct {
	// MaxInteractions bounds how many back-and-forth messages a critical
	// ticket may accumulate before it escalates.
	MaxInteractions int `json:"max_interactions"`
	// SentimentThreshold is the floor below which customer sentiment
	// escalates. Sentiment is scored in [-1, 1].
	SentimentThreshold float64 `json:"sentiment_threshold"`
	// MinConfidence is the floor below which a resolver answer escalates.
	MinConfidence float64 `json:"min_confidence"`
	// SLAHours is the ticket age in hours past which it escalates.
	SLAHours int `json:"sla_hours"`
}

// Config holds tenant-specific pipeline configuration.
type Config struct {
	OrgID      string     `json:"org_id"`
	Name       string     `json:"name"`
	Thresholds Thresholds `json:"thresholds"`
	// AutoResolveConfidence is the minimum resolver confidence for
	// closing a ticket without a human.
	AutoResolveConfidence float64 `json:"auto_resolve_confidence"`
	// Routing maps a normalized category to the team that owns it.
	Routing map[string]string `json:"routing,omitempty"`
	// DefaultTeam receives tickets whose category has no routing entry.
	DefaultTeam string `json:"default_team"`
	// EscalationEmail receives a notification when a ticket escalates.
	EscalationEmail string `json:"escalation_email,omitempty"`
	// PolicyNotes is free-form tenant guidance injected into advisory
	// prompts.
	PolicyNotes string `json:"policy_notes,omitempty"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig(orgID string) *Config {
	return &Config{
		OrgID: orgID,
		Name:  "Support",
		Thresholds: Thresholds{
			MaxInteractions:    3,
			SentimentThreshold: -0.5,
			MinConfidence:      0.5,
			SLAHours:           24,
		},
		AutoResolveConfidence: 0.8,
		Routing: map[string]string{
			"billing":  "billing-team",
			"hardware": "field-support",
			"account":  "identity-team",
		},
		DefaultTeam: "general-support",
	}
}

// TeamFor resolves the owning team for a category, falling back to the
// default team for unknown categories.
func (c *Config) TeamFor(category string) string {
	if c == nil {
		return ""
	}
	key := strings.ToLower(strings.TrimSpace(category))
	if team, ok := c.Routing[key]; ok && team != "" {
		return team
	}
	return c.DefaultTeam
}

// Provider resolves the configuration for an org. Implementations must
// return a usable config for unknown orgs rather than an error.
type Provider interface {
	Get(ctx context.Context, orgID string) (*Config, error)
}

// StaticProvider serves a fixed set of configs, used in development and
// tests. Unknown orgs get the default config.
type StaticProvider struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

// NewStaticProvider creates a provider seeded with the given configs.
func NewStaticProvider(configs ...*Config) *StaticProvider {
	p := &StaticProvider{configs: make(map[string]*Config)}
	for _, cfg := range configs {
		p.configs[cfg.OrgID] = cfg
	}
	return p
}

// Get returns the config for orgID, or the default when unseeded.
func (p *StaticProvider) Get(ctx context.Context, orgID string) (*Config, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cfg, ok := p.configs[orgID]; ok {
		copied := *cfg
		return &copied, nil
	}
	return DefaultConfig(orgID), nil
}

// Set seeds or replaces the config for an org.
func (p *StaticProvider) Set(cfg *Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[cfg.OrgID] = cfg
}

var _ Provider = (*StaticProvider)(nil)
