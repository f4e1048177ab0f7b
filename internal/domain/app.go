package domain

import (
	"errors"
	"strings"
	"time"
)

// App is a hosted execution specification. SavedSpecification, SavedConfig
// and SavedRun hold the verbatim payload of the latest design-mode run.
type App struct {
	ID                 int64
	UID                string
	SID                string
	Name               string
	Description        string
	Visibility         Visibility
	SavedSpecification string
	SavedConfig        string
	SavedRun           string
	ProjectID          string
	UserID             int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (a App) Validate() error {
	if strings.TrimSpace(a.UID) == "" {
		return errors.New("uId is required")
	}
	if strings.TrimSpace(a.SID) == "" {
		return errors.New("sId is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("name is required")
	}
	if !a.Visibility.Valid() {
		return errors.New("visibility must be private, unlisted or public")
	}
	if strings.TrimSpace(a.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if a.UserID <= 0 {
		return errors.New("user id is required")
	}
	return nil
}

// OwnerID and VisibilityTag satisfy the access-policy resource contract.
func (a App) OwnerID() int64            { return a.UserID }
func (a App) VisibilityTag() Visibility { return a.Visibility }

// Clone records app lineage: ToID was cloned from FromID.
type Clone struct {
	ID        int64
	FromID    int64
	ToID      int64
	CreatedAt time.Time
}

func (c Clone) Validate() error {
	if c.FromID <= 0 || c.ToID <= 0 {
		return errors.New("clone endpoints are required")
	}
	if c.FromID == c.ToID {
		return errors.New("clone endpoints must differ")
	}
	return nil
}
