package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/tracking-engine/internal/registry"
	"github.com/noah-isme/tracking-engine/internal/shipment"
)

const providerColumns = `id, name, priority, types, active, adapter, organization_id, settings, created_at, updated_at`

// ProviderStore implements registry.Store on the providers table.
type ProviderStore struct {
	Q Querier
}

var _ registry.Store = ProviderStore{}

func (s ProviderStore) List(ctx context.Context) ([]registry.Provider, error) {
	rows, err := s.Q.Query(ctx, `SELECT `+providerColumns+` FROM providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var out []registry.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return out, nil
}

func (s ProviderStore) Get(ctx context.Context, id string) (registry.Provider, error) {
	p, err := scanProvider(s.Q.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return registry.Provider{}, registry.ErrProviderNotFound
	}
	return p, err
}

// Upsert inserts or replaces p, keeping the original creation time.
func (s ProviderStore) Upsert(ctx context.Context, p registry.Provider) (registry.Provider, error) {
	settings := p.Settings
	if settings == nil {
		settings = map[string]string{}
	}
	row := s.Q.QueryRow(ctx, `
INSERT INTO providers (id, name, priority, types, active, adapter, organization_id, settings)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    priority = EXCLUDED.priority,
    types = EXCLUDED.types,
    active = EXCLUDED.active,
    adapter = EXCLUDED.adapter,
    organization_id = EXCLUDED.organization_id,
    settings = EXCLUDED.settings,
    updated_at = now()
RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Priority, typeNames(p.Types), p.Active, string(p.Adapter), nullable(p.OrganizationID), settings)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return registry.Provider{}, fmt.Errorf("upsert provider %s: %w", p.ID, err)
	}
	return p, nil
}

func (s ProviderStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(ctx, `UPDATE providers SET active = $2, updated_at = now() WHERE id = $1`, id, active)
}

func (s ProviderStore) SetPriority(ctx context.Context, id string, priority int) error {
	return s.update(ctx, `UPDATE providers SET priority = $2, updated_at = now() WHERE id = $1`, id, priority)
}

func (s ProviderStore) Delete(ctx context.Context, id string) error {
	return s.update(ctx, `DELETE FROM providers WHERE id = $1`, id)
}

func (s ProviderStore) update(ctx context.Context, sql string, args ...any) error {
	tag, err := s.Q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrProviderNotFound
	}
	return nil
}

func scanProvider(row pgx.Row) (registry.Provider, error) {
	var (
		p        registry.Provider
		types    []string
		adapter  string
		org      *string
		settings map[string]string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Priority, &types, &p.Active, &adapter, &org, &settings, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return registry.Provider{}, err
	}
	for _, t := range types {
		if parsed, ok := shipment.ParseType(t); ok {
			p.Types = append(p.Types, parsed)
		}
	}
	p.Adapter = registry.AdapterKind(adapter)
	if org != nil {
		p.OrganizationID = *org
	}
	p.Settings = settings
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func typeNames(types []shipment.Type) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

