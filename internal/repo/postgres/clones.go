package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/loomworks/loom-go/internal/domain"
)

type CloneStore struct {
	db DB
}

func NewCloneStore(db DB) *CloneStore {
	if db == nil {
		return nil
	}
	return &CloneStore{db: db}
}

func (s *CloneStore) CreateClone(ctx context.Context, clone domain.Clone) (domain.Clone, error) {
	if s == nil || s.db == nil {
		return domain.Clone{}, fmt.Errorf("clone store not initialized")
	}
	if err := clone.Validate(); err != nil {
		return domain.Clone{}, err
	}
	now := time.Now().UTC()
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO clones (from_id, to_id, created_at) VALUES ($1,$2,$3) RETURNING id`,
		clone.FromID, clone.ToID, now,
	).Scan(&clone.ID)
	if err != nil {
		return domain.Clone{}, fmt.Errorf("insert clone: %w", err)
	}
	clone.CreatedAt = now
	return clone, nil
}

func (s *CloneStore) ListClonesOf(ctx context.Context, fromID int64) ([]domain.Clone, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("clone store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, from_id, to_id, created_at FROM clones WHERE from_id = $1 ORDER BY created_at DESC`,
		fromID,
	)
	if err != nil {
		return nil, fmt.Errorf("list clones: %w", err)
	}
	defer rows.Close()

	var clones []domain.Clone
	for rows.Next() {
		var c domain.Clone
		if err := rows.Scan(&c.ID, &c.FromID, &c.ToID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan clone: %w", err)
		}
		clones = append(clones, c)
	}
	return clones, rows.Err()
}
