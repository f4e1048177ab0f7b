package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/repo"
)

type DataSourceStore struct {
	db DB
}

func NewDataSourceStore(db DB) *DataSourceStore {
	if db == nil {
		return nil
	}
	return &DataSourceStore{db: db}
}

const dataSourceColumns = `id, user_id, name, description, visibility, config, project_id, created_at, updated_at`

func scanDataSource(row interface{ Scan(...any) error }) (domain.DataSource, error) {
	var d domain.DataSource
	var visibility string
	var config sql.NullString
	err := row.Scan(
		&d.ID, &d.UserID, &d.Name, &d.Description, &visibility, &config,
		&d.ProjectID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return domain.DataSource{}, err
	}
	d.Visibility = domain.Visibility(visibility)
	d.Config = config.String
	return d, nil
}

func (s *DataSourceStore) CreateDataSource(ctx context.Context, source domain.DataSource) (domain.DataSource, error) {
	if s == nil || s.db == nil {
		return domain.DataSource{}, fmt.Errorf("data source store not initialized")
	}
	if err := source.Validate(); err != nil {
		return domain.DataSource{}, err
	}
	now := time.Now().UTC()
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO data_sources (user_id, name, description, visibility, config, project_id, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		 RETURNING id`,
		source.UserID,
		strings.TrimSpace(source.Name),
		source.Description,
		string(source.Visibility),
		nullIfEmpty(source.Config),
		strings.TrimSpace(source.ProjectID),
		now,
	).Scan(&source.ID)
	if err != nil {
		return domain.DataSource{}, fmt.Errorf("insert data source: %w", handleConflict(err))
	}
	source.CreatedAt = now
	source.UpdatedAt = now
	return source, nil
}

func (s *DataSourceStore) GetDataSource(ctx context.Context, scope repo.Scope, name string) (domain.DataSource, error) {
	if s == nil || s.db == nil {
		return domain.DataSource{}, fmt.Errorf("data source store not initialized")
	}
	args := []any{}
	clause, next := scopeClause(scope, 1, &args)
	args = append(args, strings.TrimSpace(name))
	row := s.db.QueryRowContext(
		ctx,
		fmt.Sprintf(`SELECT %s FROM data_sources WHERE %s AND name = $%d`, dataSourceColumns, clause, next),
		args...,
	)
	source, err := scanDataSource(row)
	if err != nil {
		return domain.DataSource{}, handleNotFound(err)
	}
	return source, nil
}

func (s *DataSourceStore) ListDataSources(ctx context.Context, scope repo.Scope) ([]domain.DataSource, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("data source store not initialized")
	}
	args := []any{}
	clause, _ := scopeClause(scope, 1, &args)
	rows, err := s.db.QueryContext(
		ctx,
		fmt.Sprintf(`SELECT %s FROM data_sources WHERE %s ORDER BY updated_at DESC`, dataSourceColumns, clause),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.DataSource
	for rows.Next() {
		source, err := scanDataSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan data source: %w", err)
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

func (s *DataSourceStore) DeleteDataSource(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("data source store not initialized")
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM data_sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete data source: %w", err)
	}
	return requireRow(result)
}
