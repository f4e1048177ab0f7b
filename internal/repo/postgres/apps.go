package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/repo"
)

type AppStore struct {
	db DB
}

func NewAppStore(db DB) *AppStore {
	if db == nil {
		return nil
	}
	return &AppStore{db: db}
}

const appColumns = `id, u_id, s_id, name, description, visibility,
	saved_specification, saved_config, saved_run, project_id, user_id,
	created_at, updated_at`

func scanApp(row interface{ Scan(...any) error }) (domain.App, error) {
	var a domain.App
	var visibility string
	err := row.Scan(
		&a.ID, &a.UID, &a.SID, &a.Name, &a.Description, &visibility,
		&a.SavedSpecification, &a.SavedConfig, &a.SavedRun, &a.ProjectID, &a.UserID,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.App{}, err
	}
	a.Visibility = domain.Visibility(visibility)
	return a, nil
}

func (s *AppStore) CreateApp(ctx context.Context, app domain.App) (domain.App, error) {
	if s == nil || s.db == nil {
		return domain.App{}, fmt.Errorf("app store not initialized")
	}
	if err := app.Validate(); err != nil {
		return domain.App{}, err
	}
	now := time.Now().UTC()
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO apps (
			u_id, s_id, name, description, visibility,
			saved_specification, saved_config, saved_run,
			project_id, user_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		RETURNING id`,
		strings.TrimSpace(app.UID),
		strings.TrimSpace(app.SID),
		strings.TrimSpace(app.Name),
		app.Description,
		string(app.Visibility),
		app.SavedSpecification,
		app.SavedConfig,
		app.SavedRun,
		strings.TrimSpace(app.ProjectID),
		app.UserID,
		now,
	).Scan(&app.ID)
	if err != nil {
		return domain.App{}, fmt.Errorf("insert app: %w", handleConflict(err))
	}
	app.CreatedAt = now
	app.UpdatedAt = now
	return app, nil
}

func (s *AppStore) GetApp(ctx context.Context, scope repo.Scope, sID string) (domain.App, error) {
	if s == nil || s.db == nil {
		return domain.App{}, fmt.Errorf("app store not initialized")
	}
	args := []any{}
	clause, next := scopeClause(scope, 1, &args)
	args = append(args, strings.TrimSpace(sID))
	row := s.db.QueryRowContext(
		ctx,
		fmt.Sprintf(`SELECT %s FROM apps WHERE %s AND s_id = $%d`, appColumns, clause, next),
		args...,
	)
	app, err := scanApp(row)
	if err != nil {
		return domain.App{}, handleNotFound(err)
	}
	return app, nil
}

func (s *AppStore) ListApps(ctx context.Context, scope repo.Scope) ([]domain.App, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("app store not initialized")
	}
	args := []any{}
	clause, _ := scopeClause(scope, 1, &args)
	rows, err := s.db.QueryContext(
		ctx,
		fmt.Sprintf(`SELECT %s FROM apps WHERE %s ORDER BY updated_at DESC`, appColumns, clause),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	var apps []domain.App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan app: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func (s *AppStore) UpdateAppSettings(ctx context.Context, id int64, name, description string, visibility domain.Visibility) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("app store not initialized")
	}
	if !visibility.Valid() {
		return fmt.Errorf("visibility must be private, unlisted or public")
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE apps SET name = $1, description = $2, visibility = $3, updated_at = $4 WHERE id = $5`,
		strings.TrimSpace(name), description, string(visibility), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update app: %w", err)
	}
	return requireRow(result)
}

// UpdateSavedRun is the design-mode persistence write, last writer wins.
// A nil specification keeps the stored column as is.
func (s *AppStore) UpdateSavedRun(ctx context.Context, id int64, update repo.SavedRunUpdate) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("app store not initialized")
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE apps
		 SET saved_specification = COALESCE($1, saved_specification),
		     saved_config = $2, saved_run = $3, updated_at = $4
		 WHERE id = $5`,
		update.Specification, update.Config, update.RunID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update saved run: %w", err)
	}
	return requireRow(result)
}

func (s *AppStore) DeleteApp(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("app store not initialized")
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM apps WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete app: %w", err)
	}
	return requireRow(result)
}
