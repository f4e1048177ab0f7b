package domain

import (
	"errors"
	"strings"
	"time"
)

// User is an account record. This service reads users; account creation
// happens during the login flow when a subject is seen for the first time.
type User struct {
	ID         int64
	ExternalID string
	Username   string
	Email      string
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (u User) Validate() error {
	if strings.TrimSpace(u.ExternalID) == "" {
		return errors.New("external id is required")
	}
	if strings.TrimSpace(u.Username) == "" {
		return errors.New("username is required")
	}
	return nil
}
