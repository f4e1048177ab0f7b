package domain

import "fmt"

// Visibility is the access tag carried by apps and data sources.
type Visibility string

const (
	VisibilityPrivate  Visibility = "private"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPublic   Visibility = "public"
)

func ParseVisibility(value string) (Visibility, error) {
	switch Visibility(value) {
	case VisibilityPrivate, VisibilityUnlisted, VisibilityPublic:
		return Visibility(value), nil
	}
	return "", fmt.Errorf("unknown visibility %q", value)
}

func (v Visibility) Valid() bool {
	_, err := ParseVisibility(string(v))
	return err == nil
}
