package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresProvider loads tenant configs from the tenant_configs table,
// where each row stores the whole config as a JSON document.
type PostgresProvider struct {
	db dbQuerier
}

// NewPostgresProvider creates a provider backed by pgxpool.
func NewPostgresProvider(pool *pgxpool.Pool) *PostgresProvider {
	if pool == nil {
		panic("tenancy: pgx pool required")
	}
	return &PostgresProvider{db: pool}
}

func newPostgresProviderWithDB(db dbQuerier) *PostgresProvider {
	return &PostgresProvider{db: db}
}

var _ Provider = (*PostgresProvider)(nil)

// Get loads the config for orgID, returning the default when no row
// exists.
func (p *PostgresProvider) Get(ctx context.Context, orgID string) (*Config, error) {
	var data []byte
	err := p.db.QueryRow(ctx, `SELECT config FROM tenant_configs WHERE org_id = $1`, orgID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultConfig(orgID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("tenancy: get config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("tenancy: unmarshal config: %w", err)
	}
	cfg.OrgID = orgID
	return &cfg, nil
}
