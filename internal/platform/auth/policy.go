package auth

import (
	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/repo"
)

// Resource is anything with an owner and a visibility tag.
type Resource interface {
	OwnerID() int64
	VisibilityTag() domain.Visibility
}

// CanWrite holds iff the principal is the resource owner.
func CanWrite(p Principal, res Resource) bool {
	return !p.Anonymous() && p.UserID == res.OwnerID()
}

// CanRead holds for the owner, for public resources, and for unlisted
// resources reached through the web path. API-key principals only read
// what they own: programmatic execution is scoped to the key's owner.
func CanRead(p Principal, res Resource) bool {
	if CanWrite(p, res) {
		return true
	}
	if p.Origin == OriginKey {
		return false
	}
	switch res.VisibilityTag() {
	case domain.VisibilityPublic, domain.VisibilityUnlisted:
		return true
	}
	return false
}

// ReadOnly is derived once per request: the principal is not the resource
// owner. It selects which lookup scope is applied below.
func ReadOnly(p Principal, ownerID int64) bool {
	return p.Anonymous() || p.UserID != ownerID
}

// AppReadScope pushes the CanRead check into the lookup predicate for
// apps: owners see everything of theirs, everyone else sees public and
// unlisted rows. Equivalent to looking up unconditionally and applying
// CanRead afterwards.
func AppReadScope(p Principal, ownerID int64) repo.Scope {
	if !ReadOnly(p, ownerID) {
		return repo.OwnerScope(ownerID)
	}
	return repo.VisibilityScope(ownerID, domain.VisibilityPublic, domain.VisibilityUnlisted)
}

// DataSourceReadScope is the stricter data-source variant: non-owners
// only see public rows.
func DataSourceReadScope(p Principal, ownerID int64) repo.Scope {
	if !ReadOnly(p, ownerID) {
		return repo.OwnerScope(ownerID)
	}
	return repo.VisibilityScope(ownerID, domain.VisibilityPublic)
}
