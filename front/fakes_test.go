package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/engine"
	"github.com/loomworks/loom-go/internal/platform/auth"
	"github.com/loomworks/loom-go/internal/repo"
)

type fakeSessions struct {
	principal auth.Principal
}

func (f *fakeSessions) Resolve(context.Context, *http.Request) auth.Principal {
	return f.principal
}

type fakeKeyAuth struct {
	principal auth.Principal
	err       error
}

func (f *fakeKeyAuth) Resolve(context.Context, *http.Request) (auth.Principal, error) {
	return f.principal, f.err
}

type fakeUserRepo struct {
	byUsername map[string]domain.User
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id int64) (domain.User, error) {
	for _, u := range f.byUsername {
		if u.ID == id {
			return u, nil
		}
	}
	return domain.User{}, repo.ErrNotFound
}

func (f *fakeUserRepo) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	u, ok := f.byUsername[username]
	if !ok {
		return domain.User{}, repo.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) GetUserByExternalID(context.Context, string) (domain.User, error) {
	return domain.User{}, repo.ErrNotFound
}

func (f *fakeUserRepo) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	return u, nil
}

type fakeAppRepo struct {
	apps       []domain.App
	savedRuns  []repo.SavedRunUpdate
	savedRunID map[int64]string
}

func scopeMatches(scope repo.Scope, app domain.App) bool {
	if app.UserID != scope.OwnerID {
		return false
	}
	if len(scope.Visibilities) == 0 {
		return true
	}
	for _, v := range scope.Visibilities {
		if app.Visibility == v {
			return true
		}
	}
	return false
}

func (f *fakeAppRepo) CreateApp(_ context.Context, app domain.App) (domain.App, error) {
	app.ID = int64(len(f.apps) + 1)
	f.apps = append(f.apps, app)
	return app, nil
}

func (f *fakeAppRepo) GetApp(_ context.Context, scope repo.Scope, sID string) (domain.App, error) {
	for _, app := range f.apps {
		if app.SID == sID && scopeMatches(scope, app) {
			return app, nil
		}
	}
	return domain.App{}, repo.ErrNotFound
}

func (f *fakeAppRepo) ListApps(_ context.Context, scope repo.Scope) ([]domain.App, error) {
	var out []domain.App
	for _, app := range f.apps {
		if scopeMatches(scope, app) {
			out = append(out, app)
		}
	}
	return out, nil
}

func (f *fakeAppRepo) UpdateAppSettings(context.Context, int64, string, string, domain.Visibility) error {
	return nil
}

func (f *fakeAppRepo) UpdateSavedRun(_ context.Context, id int64, update repo.SavedRunUpdate) error {
	f.savedRuns = append(f.savedRuns, update)
	if f.savedRunID == nil {
		f.savedRunID = map[int64]string{}
	}
	f.savedRunID[id] = update.RunID
	for i := range f.apps {
		if f.apps[i].ID != id {
			continue
		}
		if update.Specification != nil {
			f.apps[i].SavedSpecification = *update.Specification
		}
		f.apps[i].SavedConfig = update.Config
		f.apps[i].SavedRun = update.RunID
	}
	return nil
}

func (f *fakeAppRepo) DeleteApp(context.Context, int64) error { return nil }

type fakeProviderRepo struct {
	providers []domain.Provider
}

func (f *fakeProviderRepo) ListProviders(_ context.Context, userID int64) ([]domain.Provider, error) {
	var out []domain.Provider
	for _, p := range f.providers {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProviderRepo) UpsertProvider(_ context.Context, p domain.Provider) (domain.Provider, error) {
	f.providers = append(f.providers, p)
	return p, nil
}

func (f *fakeProviderRepo) DeleteProvider(context.Context, int64, string) error { return nil }

type fakeKeyRepo struct{}

func (f *fakeKeyRepo) CreateKey(_ context.Context, k domain.Key) (domain.Key, error) { return k, nil }
func (f *fakeKeyRepo) GetKeyBySecretHash(context.Context, string) (domain.Key, error) {
	return domain.Key{}, repo.ErrNotFound
}
func (f *fakeKeyRepo) ListKeys(context.Context, int64) ([]domain.Key, error) { return nil, nil }
func (f *fakeKeyRepo) UpdateKeyStatus(context.Context, int64, int64, domain.KeyStatus) error {
	return nil
}

type fakeDatasetRepo struct {
	datasets []domain.Dataset
	created  []domain.Dataset
}

func (f *fakeDatasetRepo) CreateDataset(_ context.Context, d domain.Dataset) (domain.Dataset, error) {
	d.ID = int64(len(f.created) + 1)
	f.created = append(f.created, d)
	return d, nil
}
func (f *fakeDatasetRepo) GetDataset(_ context.Context, userID, appID int64, name string) (domain.Dataset, error) {
	for _, d := range f.datasets {
		if d.UserID == userID && d.AppID == appID && d.Name == name {
			return d, nil
		}
	}
	return domain.Dataset{}, repo.ErrNotFound
}
func (f *fakeDatasetRepo) ListDatasets(_ context.Context, userID, appID int64) ([]domain.Dataset, error) {
	var out []domain.Dataset
	for _, d := range f.datasets {
		if d.UserID == userID && d.AppID == appID {
			out = append(out, d)
		}
	}
	return out, nil
}
func (f *fakeDatasetRepo) UpdateDataset(context.Context, int64, string) error { return nil }
func (f *fakeDatasetRepo) DeleteDataset(context.Context, int64) error         { return nil }

type fakeDataSourceRepo struct{}

func (f *fakeDataSourceRepo) CreateDataSource(_ context.Context, s domain.DataSource) (domain.DataSource, error) {
	return s, nil
}
func (f *fakeDataSourceRepo) GetDataSource(context.Context, repo.Scope, string) (domain.DataSource, error) {
	return domain.DataSource{}, repo.ErrNotFound
}
func (f *fakeDataSourceRepo) ListDataSources(context.Context, repo.Scope) ([]domain.DataSource, error) {
	return nil, nil
}
func (f *fakeDataSourceRepo) DeleteDataSource(context.Context, int64) error { return nil }

type fakeCloneRepo struct {
	clones []domain.Clone
}

func (f *fakeCloneRepo) CreateClone(_ context.Context, c domain.Clone) (domain.Clone, error) {
	f.clones = append(f.clones, c)
	return c, nil
}
func (f *fakeCloneRepo) ListClonesOf(context.Context, int64) ([]domain.Clone, error) {
	return nil, nil
}

type registeredDataset struct {
	projectID string
	name      string
	data      json.RawMessage
}

type fakeEngine struct {
	datasets    map[string][]engine.DatasetVersion
	datasetsErr error
	datasetData json.RawMessage
	registered  []registeredDataset

	createRun func(params engine.RunRequestParams) (engine.Run, error)
	streamRun func(ctx context.Context, params engine.RunRequestParams) (io.ReadCloser, error)
	getRun    func(runID string) (engine.Run, error)
}

func (f *fakeEngine) CreateProject(context.Context) (string, error) { return "99", nil }

func (f *fakeEngine) ListDatasets(context.Context, string) (map[string][]engine.DatasetVersion, error) {
	if f.datasetsErr != nil {
		return nil, f.datasetsErr
	}
	return f.datasets, nil
}

func (f *fakeEngine) RegisterDataset(_ context.Context, projectID, name string, data json.RawMessage) (engine.DatasetVersion, error) {
	f.registered = append(f.registered, registeredDataset{projectID: projectID, name: name, data: data})
	return engine.DatasetVersion{Hash: "h"}, nil
}

func (f *fakeEngine) GetDatasetData(context.Context, string, string, string) (json.RawMessage, error) {
	if f.datasetData == nil {
		return nil, engine.ErrNotFound
	}
	return f.datasetData, nil
}

func (f *fakeEngine) CreateRun(_ context.Context, _ string, params engine.RunRequestParams) (engine.Run, error) {
	if f.createRun == nil {
		return engine.Run{}, engine.ErrNotFound
	}
	return f.createRun(params)
}

func (f *fakeEngine) StreamRun(ctx context.Context, _ string, params engine.RunRequestParams) (io.ReadCloser, error) {
	if f.streamRun == nil {
		return nil, engine.ErrNotFound
	}
	return f.streamRun(ctx, params)
}

func (f *fakeEngine) GetRun(_ context.Context, _ string, runID string) (engine.Run, error) {
	if f.getRun == nil {
		return engine.Run{}, engine.ErrNotFound
	}
	return f.getRun(runID)
}

func (f *fakeEngine) ListRuns(context.Context, string, int, int, string) ([]engine.Run, int, error) {
	return nil, 0, nil
}

func (f *fakeEngine) RegisterDataSource(context.Context, string, string, json.RawMessage) error {
	return nil
}
func (f *fakeEngine) DeleteDataSource(context.Context, string, string) error { return nil }

func (f *fakeEngine) UpsertDocument(context.Context, string, string, string, string, []string, *string) (engine.Document, error) {
	return engine.Document{}, nil
}
func (f *fakeEngine) GetDocument(context.Context, string, string, string) (engine.Document, error) {
	return engine.Document{}, engine.ErrNotFound
}
func (f *fakeEngine) ListDocuments(context.Context, string, string, int, int) ([]engine.Document, int, error) {
	return nil, 0, nil
}
func (f *fakeEngine) DeleteDocument(context.Context, string, string, string) error { return nil }

// testHarness wires a frontAPI over fakes and exposes the mux.
type testHarness struct {
	api      *frontAPI
	apps     *fakeAppRepo
	datasets *fakeDatasetRepo
	engine   *fakeEngine
	session  *fakeSessions
	keyAuth  *fakeKeyAuth
	mux      *http.ServeMux
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		apps:     &fakeAppRepo{},
		datasets: &fakeDatasetRepo{},
		engine:   &fakeEngine{},
		session:  &fakeSessions{principal: auth.Principal{Origin: auth.OriginAnonymous}},
		keyAuth:  &fakeKeyAuth{},
	}
	h.api = &frontAPI{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		users:       &fakeUserRepo{byUsername: map[string]domain.User{"alice": {ID: 1, Username: "alice"}, "bob": {ID: 2, Username: "bob"}}},
		apps:        h.apps,
		providers:   &fakeProviderRepo{},
		keys:        &fakeKeyRepo{},
		datasets:    h.datasets,
		dataSources: &fakeDataSourceRepo{},
		clones:      &fakeCloneRepo{},
		engine:      h.engine,
		sessions:    h.session,
		keyAuth:     h.keyAuth,
	}
	h.mux = http.NewServeMux()
	h.api.register(h.mux)
	return h
}

func (h *testHarness) addApp(app domain.App) domain.App {
	created, _ := h.apps.CreateApp(context.Background(), app)
	return created
}

func (h *testHarness) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, w.Body.String())
	}
	return body
}

func errorType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, w)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("response has no error object: %s", w.Body.String())
	}
	errType, _ := errObj["type"].(string)
	return errType
}
