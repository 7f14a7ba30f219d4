package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// CachedProvider is a read-through Redis cache in front of another
// Provider. Cache failures degrade to the source, never to an error.
type CachedProvider struct {
	redis  *redis.Client
	source Provider
	ttl    time.Duration
	logger *slog.Logger
	tracer trace.Tracer
}

// NewCachedProvider wraps source with a Redis cache. Entries expire
// after ttl.
func NewCachedProvider(redisClient *redis.Client, source Provider, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if redisClient == nil {
		panic("tenancy: redis client required")
	}
	if source == nil {
		panic("tenancy: source provider required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedProvider{
		redis:  redisClient,
		source: source,
		ttl:    ttl,
		logger: logger,
		tracer: otel.Tracer("support/tenancy"),
	}
}

var _ Provider = (*CachedProvider)(nil)

func (p *CachedProvider) key(orgID string) string {
	return fmt.Sprintf("tenant:config:%s", orgID)
}

// Get returns the cached config when present, otherwise loads it from
// the source and caches it.
func (p *CachedProvider) Get(ctx context.Context, orgID string) (*Config, error) {
	ctx, span := p.tracer.Start(ctx, "tenancy.get_config")
	defer span.End()

	data, err := p.redis.Get(ctx, p.key(orgID)).Bytes()
	if err == nil {
		var cfg Config
		if jsonErr := json.Unmarshal(data, &cfg); jsonErr == nil {
			return &cfg, nil
		}
		p.logger.Warn("tenant config cache entry corrupt, reloading",
			"org_id", orgID,
		)
	} else if !errors.Is(err, redis.Nil) {
		p.logger.Warn("tenant config cache read failed",
			"org_id", orgID,
			"error", err.Error(),
		)
	}

	cfg, err := p.source.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("tenancy: marshal config: %w", err)
	}
	if err := p.redis.Set(ctx, p.key(orgID), encoded, p.ttl).Err(); err != nil {
		p.logger.Warn("tenant config cache write failed",
			"org_id", orgID,
			"error", err.Error(),
		)
	}
	return cfg, nil
}

// Invalidate drops the cached entry so the next Get reloads from the
// source.
func (p *CachedProvider) Invalidate(ctx context.Context, orgID string) error {
	if err := p.redis.Del(ctx, p.key(orgID)).Err(); err != nil {
		return fmt.Errorf("tenancy: invalidate config: %w", err)
	}
	return nil
}
