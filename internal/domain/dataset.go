package domain

import (
	"errors"
	"strings"
	"time"
)

// Dataset is the front-side registry row for a dataset attached to an app.
// The dataset's versioned data lives in the execution engine; this record
// only carries naming and description.
type Dataset struct {
	ID          int64
	UserID      int64
	AppID       int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (d Dataset) Validate() error {
	if d.UserID <= 0 {
		return errors.New("user id is required")
	}
	if d.AppID <= 0 {
		return errors.New("app id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}
