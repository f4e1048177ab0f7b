package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom-go/internal/domain"
)

type ProviderStore struct {
	db DB
}

func NewProviderStore(db DB) *ProviderStore {
	if db == nil {
		return nil
	}
	return &ProviderStore{db: db}
}

func (s *ProviderStore) ListProviders(ctx context.Context, userID int64) ([]domain.Provider, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("provider store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, user_id, provider_id, config, created_at, updated_at
		 FROM providers
		 WHERE user_id = $1
		 ORDER BY provider_id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var providers []domain.Provider
	for rows.Next() {
		var p domain.Provider
		if err := rows.Scan(&p.ID, &p.UserID, &p.ProviderID, &p.Config, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

func (s *ProviderStore) UpsertProvider(ctx context.Context, provider domain.Provider) (domain.Provider, error) {
	if s == nil || s.db == nil {
		return domain.Provider{}, fmt.Errorf("provider store not initialized")
	}
	if err := provider.Validate(); err != nil {
		return domain.Provider{}, err
	}
	now := time.Now().UTC()
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO providers (user_id, provider_id, config, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$4)
		 ON CONFLICT (user_id, provider_id)
		 DO UPDATE SET config = EXCLUDED.config, updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		provider.UserID,
		strings.TrimSpace(provider.ProviderID),
		provider.Config,
		now,
	).Scan(&provider.ID, &provider.CreatedAt)
	if err != nil {
		return domain.Provider{}, fmt.Errorf("upsert provider: %w", err)
	}
	provider.UpdatedAt = now
	return provider, nil
}

func (s *ProviderStore) DeleteProvider(ctx context.Context, userID int64, providerID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("provider store not initialized")
	}
	result, err := s.db.ExecContext(
		ctx,
		`DELETE FROM providers WHERE user_id = $1 AND provider_id = $2`,
		userID, strings.TrimSpace(providerID),
	)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	return requireRow(result)
}
