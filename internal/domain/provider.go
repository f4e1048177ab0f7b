package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider is a stored model-provider credential owned by a user. Config is
// a JSON object kept as text; it is validated on write and decoded when
// credentials are assembled for a run.
type Provider struct {
	ID         int64
	UserID     int64
	ProviderID string
	Config     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (p Provider) Validate() error {
	if p.UserID <= 0 {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(p.ProviderID) == "" {
		return errors.New("provider id is required")
	}
	if _, err := p.DecodeConfig(); err != nil {
		return err
	}
	return nil
}

// DecodeConfig parses the stored config text into a JSON object.
func (p Provider) DecodeConfig() (map[string]any, error) {
	if strings.TrimSpace(p.Config) == "" {
		return nil, errors.New("provider config is required")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(p.Config), &out); err != nil {
		return nil, fmt.Errorf("provider %s config: %w", p.ProviderID, err)
	}
	return out, nil
}
