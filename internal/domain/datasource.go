package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DataSource is a managed document store addressed through the execution
// engine. Like App it carries an owner, a visibility tag and the engine
// project identifier.
type DataSource struct {
	ID          int64
	UserID      int64
	Name        string
	Description string
	Visibility  Visibility
	Config      string
	ProjectID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (d DataSource) Validate() error {
	if d.UserID <= 0 {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("name is required")
	}
	if !d.Visibility.Valid() {
		return errors.New("visibility must be private, unlisted or public")
	}
	if strings.TrimSpace(d.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(d.Config) != "" {
		var obj map[string]any
		if err := json.Unmarshal([]byte(d.Config), &obj); err != nil {
			return fmt.Errorf("data source config: %w", err)
		}
	}
	return nil
}

func (d DataSource) OwnerID() int64            { return d.UserID }
func (d DataSource) VisibilityTag() Visibility { return d.Visibility }
