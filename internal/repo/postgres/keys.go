package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom-go/internal/domain"
)

type KeyStore struct {
	db DB
}

func NewKeyStore(db DB) *KeyStore {
	if db == nil {
		return nil
	}
	return &KeyStore{db: db}
}

const keyColumns = `id, user_id, secret_hash, prefix, status, created_at, updated_at`

func (s *KeyStore) CreateKey(ctx context.Context, key domain.Key) (domain.Key, error) {
	if s == nil || s.db == nil {
		return domain.Key{}, fmt.Errorf("key store not initialized")
	}
	if err := key.Validate(); err != nil {
		return domain.Key{}, err
	}
	now := time.Now().UTC()
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO keys (user_id, secret_hash, prefix, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$5)
		 RETURNING id`,
		key.UserID,
		strings.TrimSpace(key.SecretHash),
		strings.TrimSpace(key.Prefix),
		string(key.Status),
		now,
	).Scan(&key.ID)
	if err != nil {
		return domain.Key{}, fmt.Errorf("insert key: %w", handleConflict(err))
	}
	key.CreatedAt = now
	key.UpdatedAt = now
	return key, nil
}

func (s *KeyStore) GetKeyBySecretHash(ctx context.Context, secretHash string) (domain.Key, error) {
	if s == nil || s.db == nil {
		return domain.Key{}, fmt.Errorf("key store not initialized")
	}
	var k domain.Key
	var status string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT `+keyColumns+` FROM keys WHERE secret_hash = $1`,
		strings.TrimSpace(secretHash),
	).Scan(&k.ID, &k.UserID, &k.SecretHash, &k.Prefix, &status, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return domain.Key{}, handleNotFound(err)
	}
	k.Status = domain.KeyStatus(status)
	return k, nil
}

func (s *KeyStore) ListKeys(ctx context.Context, userID int64) ([]domain.Key, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("key store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+keyColumns+` FROM keys WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.Key
	for rows.Next() {
		var k domain.Key
		var status string
		if err := rows.Scan(&k.ID, &k.UserID, &k.SecretHash, &k.Prefix, &status, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		k.Status = domain.KeyStatus(status)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *KeyStore) UpdateKeyStatus(ctx context.Context, userID, id int64, status domain.KeyStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("key store not initialized")
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE keys SET status = $1, updated_at = $2 WHERE user_id = $3 AND id = $4`,
		string(status), time.Now().UTC(), userID, id,
	)
	if err != nil {
		return fmt.Errorf("update key status: %w", err)
	}
	return requireRow(result)
}
