package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusDisabled KeyStatus = "disabled"
)

// Key is an API key record. Only the SHA-256 hash of the secret is stored;
// the secret itself is returned once, at creation time.
type Key struct {
	ID         int64
	UserID     int64
	SecretHash string
	Prefix     string
	Status     KeyStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (k Key) Validate() error {
	if k.UserID <= 0 {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(k.SecretHash) == "" {
		return errors.New("secret hash is required")
	}
	switch k.Status {
	case KeyStatusActive, KeyStatusDisabled:
	default:
		return errors.New("status must be active or disabled")
	}
	return nil
}

// HashKeySecret derives the stored lookup hash for an API key secret.
func HashKeySecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// KeyPrefix is the display fragment kept alongside the hash so users can
// tell their keys apart in listings.
func KeyPrefix(secret string) string {
	if len(secret) <= 11 {
		return secret
	}
	return secret[:11]
}
