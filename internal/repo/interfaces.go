package repo

import (
	"context"
	"errors"

	"github.com/loomworks/loom-go/internal/domain"
)

// ErrNotFound is returned when a record is absent or filtered out by the
// scope applied to the lookup.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned on unique-constraint violations.
var ErrConflict = errors.New("conflict")

// Scope narrows a resource lookup to what the caller may see. A zero
// OwnerOnly scope with Visibilities set expresses the read-only path:
// rows owned by OwnerID whose visibility is in Visibilities. With
// Visibilities empty the lookup is owner-scoped and unrestricted.
type Scope struct {
	OwnerID      int64
	Visibilities []domain.Visibility
}

// OwnerScope is the unrestricted scope used when the principal owns the
// resource.
func OwnerScope(ownerID int64) Scope {
	return Scope{OwnerID: ownerID}
}

// VisibilityScope restricts the lookup to the given visibility tags.
func VisibilityScope(ownerID int64, visibilities ...domain.Visibility) Scope {
	return Scope{OwnerID: ownerID, Visibilities: visibilities}
}

type UserRepository interface {
	GetUserByID(ctx context.Context, id int64) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
}

// SavedRunUpdate is the design-mode persistence payload: the verbatim
// caller-supplied specification and config plus the engine-assigned run id.
// A nil Specification leaves the stored specification untouched, for runs
// addressed by hash alone.
type SavedRunUpdate struct {
	Specification *string
	Config        string
	RunID         string
}

type AppRepository interface {
	CreateApp(ctx context.Context, app domain.App) (domain.App, error)
	GetApp(ctx context.Context, scope Scope, sID string) (domain.App, error)
	ListApps(ctx context.Context, scope Scope) ([]domain.App, error)
	UpdateAppSettings(ctx context.Context, id int64, name, description string, visibility domain.Visibility) error
	UpdateSavedRun(ctx context.Context, id int64, update SavedRunUpdate) error
	DeleteApp(ctx context.Context, id int64) error
}

type ProviderRepository interface {
	ListProviders(ctx context.Context, userID int64) ([]domain.Provider, error)
	UpsertProvider(ctx context.Context, provider domain.Provider) (domain.Provider, error)
	DeleteProvider(ctx context.Context, userID int64, providerID string) error
}

type KeyRepository interface {
	CreateKey(ctx context.Context, key domain.Key) (domain.Key, error)
	GetKeyBySecretHash(ctx context.Context, secretHash string) (domain.Key, error)
	ListKeys(ctx context.Context, userID int64) ([]domain.Key, error)
	UpdateKeyStatus(ctx context.Context, userID, id int64, status domain.KeyStatus) error
}

type DatasetRepository interface {
	CreateDataset(ctx context.Context, dataset domain.Dataset) (domain.Dataset, error)
	GetDataset(ctx context.Context, userID, appID int64, name string) (domain.Dataset, error)
	ListDatasets(ctx context.Context, userID, appID int64) ([]domain.Dataset, error)
	UpdateDataset(ctx context.Context, id int64, description string) error
	DeleteDataset(ctx context.Context, id int64) error
}

type DataSourceRepository interface {
	CreateDataSource(ctx context.Context, source domain.DataSource) (domain.DataSource, error)
	GetDataSource(ctx context.Context, scope Scope, name string) (domain.DataSource, error)
	ListDataSources(ctx context.Context, scope Scope) ([]domain.DataSource, error)
	DeleteDataSource(ctx context.Context, id int64) error
}

type CloneRepository interface {
	CreateClone(ctx context.Context, clone domain.Clone) (domain.Clone, error)
	ListClonesOf(ctx context.Context, fromID int64) ([]domain.Clone, error)
}
