package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom-go/internal/domain"
)

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	if db == nil {
		return nil
	}
	return &UserStore{db: db}
}

const userColumns = `id, external_id, username, email, name, created_at, updated_at`

func (s *UserStore) GetUserByID(ctx context.Context, id int64) (domain.User, error) {
	return s.getUser(ctx, `id = $1`, id)
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return s.getUser(ctx, `username = $1`, strings.TrimSpace(username))
}

func (s *UserStore) GetUserByExternalID(ctx context.Context, externalID string) (domain.User, error) {
	return s.getUser(ctx, `external_id = $1`, strings.TrimSpace(externalID))
}

func (s *UserStore) getUser(ctx context.Context, predicate string, arg any) (domain.User, error) {
	if s == nil || s.db == nil {
		return domain.User{}, fmt.Errorf("user store not initialized")
	}
	var u domain.User
	err := s.db.QueryRowContext(
		ctx,
		`SELECT `+userColumns+` FROM users WHERE `+predicate,
		arg,
	).Scan(&u.ID, &u.ExternalID, &u.Username, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, handleNotFound(err)
	}
	return u, nil
}

func (s *UserStore) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	if s == nil || s.db == nil {
		return domain.User{}, fmt.Errorf("user store not initialized")
	}
	if err := user.Validate(); err != nil {
		return domain.User{}, err
	}
	now := time.Now().UTC()
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO users (external_id, username, email, name, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$5)
		 RETURNING id`,
		strings.TrimSpace(user.ExternalID),
		strings.TrimSpace(user.Username),
		strings.TrimSpace(user.Email),
		strings.TrimSpace(user.Name),
		now,
	).Scan(&user.ID)
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", handleConflict(err))
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return user, nil
}
