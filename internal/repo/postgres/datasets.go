package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom-go/internal/domain"
)

type DatasetStore struct {
	db DB
}

func NewDatasetStore(db DB) *DatasetStore {
	if db == nil {
		return nil
	}
	return &DatasetStore{db: db}
}

func (s *DatasetStore) CreateDataset(ctx context.Context, dataset domain.Dataset) (domain.Dataset, error) {
	if s == nil || s.db == nil {
		return domain.Dataset{}, fmt.Errorf("dataset store not initialized")
	}
	if err := dataset.Validate(); err != nil {
		return domain.Dataset{}, err
	}
	now := time.Now().UTC()
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO datasets (user_id, app_id, name, description, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$5)
		 RETURNING id`,
		dataset.UserID,
		dataset.AppID,
		strings.TrimSpace(dataset.Name),
		dataset.Description,
		now,
	).Scan(&dataset.ID)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("insert dataset: %w", handleConflict(err))
	}
	dataset.CreatedAt = now
	dataset.UpdatedAt = now
	return dataset, nil
}

func (s *DatasetStore) GetDataset(ctx context.Context, userID, appID int64, name string) (domain.Dataset, error) {
	if s == nil || s.db == nil {
		return domain.Dataset{}, fmt.Errorf("dataset store not initialized")
	}
	var d domain.Dataset
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, user_id, app_id, name, description, created_at, updated_at
		 FROM datasets
		 WHERE user_id = $1 AND app_id = $2 AND name = $3`,
		userID, appID, strings.TrimSpace(name),
	).Scan(&d.ID, &d.UserID, &d.AppID, &d.Name, &d.Description, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return domain.Dataset{}, handleNotFound(err)
	}
	return d, nil
}

func (s *DatasetStore) ListDatasets(ctx context.Context, userID, appID int64) ([]domain.Dataset, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("dataset store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, user_id, app_id, name, description, created_at, updated_at
		 FROM datasets
		 WHERE user_id = $1 AND app_id = $2
		 ORDER BY name ASC`,
		userID, appID,
	)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var datasets []domain.Dataset
	for rows.Next() {
		var d domain.Dataset
		if err := rows.Scan(&d.ID, &d.UserID, &d.AppID, &d.Name, &d.Description, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}

func (s *DatasetStore) UpdateDataset(ctx context.Context, id int64, description string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE datasets SET description = $1, updated_at = $2 WHERE id = $3`,
		description, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update dataset: %w", err)
	}
	return requireRow(result)
}

func (s *DatasetStore) DeleteDataset(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	return requireRow(result)
}
