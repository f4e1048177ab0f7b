package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/loomworks/loom-go/internal/apierror"
	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/engine"
	"github.com/loomworks/loom-go/internal/platform/auditlog"
	"github.com/loomworks/loom-go/internal/platform/auth"
	"github.com/loomworks/loom-go/internal/platform/httpserver"
	"github.com/loomworks/loom-go/internal/platform/objectstore"
	"github.com/loomworks/loom-go/internal/platform/ratelimit"
	"github.com/loomworks/loom-go/internal/repo"
)

// sessionResolver turns a request's session cookie into a principal.
// Resolution is infallible: no or bad credentials yield anonymous.
type sessionResolver interface {
	Resolve(ctx context.Context, r *http.Request) auth.Principal
}

// keyResolver authenticates bearer API keys. Failures carry a
// machine-readable error type.
type keyResolver interface {
	Resolve(ctx context.Context, r *http.Request) (auth.Principal, error)
}

// engineClient is the outbound surface the handlers exercise.
type engineClient interface {
	CreateProject(ctx context.Context) (string, error)
	ListDatasets(ctx context.Context, projectID string) (map[string][]engine.DatasetVersion, error)
	RegisterDataset(ctx context.Context, projectID, name string, data json.RawMessage) (engine.DatasetVersion, error)
	GetDatasetData(ctx context.Context, projectID, name, hash string) (json.RawMessage, error)
	CreateRun(ctx context.Context, projectID string, params engine.RunRequestParams) (engine.Run, error)
	StreamRun(ctx context.Context, projectID string, params engine.RunRequestParams) (io.ReadCloser, error)
	GetRun(ctx context.Context, projectID, runID string) (engine.Run, error)
	ListRuns(ctx context.Context, projectID string, limit, offset int, runType string) ([]engine.Run, int, error)
	RegisterDataSource(ctx context.Context, projectID, name string, config json.RawMessage) error
	DeleteDataSource(ctx context.Context, projectID, name string) error
	UpsertDocument(ctx context.Context, projectID, dataSourceName, documentID, text string, tags []string, sourceURL *string) (engine.Document, error)
	GetDocument(ctx context.Context, projectID, dataSourceName, documentID string) (engine.Document, error)
	ListDocuments(ctx context.Context, projectID, dataSourceName string, limit, offset int) ([]engine.Document, int, error)
	DeleteDocument(ctx context.Context, projectID, dataSourceName, documentID string) error
}

type frontAPI struct {
	logger *slog.Logger

	users       repo.UserRepository
	apps        repo.AppRepository
	providers   repo.ProviderRepository
	keys        repo.KeyRepository
	datasets    repo.DatasetRepository
	dataSources repo.DataSourceRepository
	clones      repo.CloneRepository

	engine   engineClient
	sessions sessionResolver
	keyAuth  keyResolver

	archive    *objectstore.Archive
	runLimiter *ratelimit.Limiter
	audit      auditlog.QueryRower
}

func (api *frontAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/apps", api.handleListOwnApps)
	mux.HandleFunc("POST /api/apps", api.handleCreateApp)
	mux.HandleFunc("GET /api/apps/{username}", api.handleListUserApps)
	mux.HandleFunc("GET /api/apps/{username}/{sId}", api.handleGetApp)
	mux.HandleFunc("POST /api/apps/{username}/{sId}/settings", api.handleUpdateAppSettings)
	mux.HandleFunc("DELETE /api/apps/{username}/{sId}", api.handleDeleteApp)
	mux.HandleFunc("POST /api/apps/{username}/{sId}/clone", api.handleCloneApp)

	mux.HandleFunc("POST /api/apps/{username}/{sId}/runs", api.handleCreateRun)
	mux.HandleFunc("GET /api/apps/{username}/{sId}/runs", api.handleListRuns)
	mux.HandleFunc("GET /api/apps/{username}/{sId}/runs/{runId}", api.handleGetRun)

	mux.HandleFunc("GET /api/apps/{username}/{sId}/datasets", api.handleListAppDatasets)
	mux.HandleFunc("POST /api/apps/{username}/{sId}/datasets", api.handleCreateAppDataset)
	mux.HandleFunc("GET /api/apps/{username}/{sId}/datasets/{name}", api.handleGetAppDataset)
	mux.HandleFunc("DELETE /api/apps/{username}/{sId}/datasets/{name}", api.handleDeleteAppDataset)

	mux.HandleFunc("GET /api/providers", api.handleListProviders)
	mux.HandleFunc("POST /api/providers/{providerId}", api.handleUpsertProvider)
	mux.HandleFunc("DELETE /api/providers/{providerId}", api.handleDeleteProvider)

	mux.HandleFunc("GET /api/keys", api.handleListKeys)
	mux.HandleFunc("POST /api/keys", api.handleCreateKey)
	mux.HandleFunc("POST /api/keys/{keyId}/disable", api.handleDisableKey)
	mux.HandleFunc("POST /api/keys/{keyId}/enable", api.handleEnableKey)

	mux.HandleFunc("GET /api/data_sources/{username}", api.handleListDataSources)
	mux.HandleFunc("POST /api/data_sources", api.handleCreateDataSource)
	mux.HandleFunc("GET /api/data_sources/{username}/{name}", api.handleGetDataSource)
	mux.HandleFunc("DELETE /api/data_sources/{username}/{name}", api.handleDeleteDataSource)
	mux.HandleFunc("GET /api/data_sources/{username}/{name}/documents", api.handleListDocuments)
	mux.HandleFunc("GET /api/data_sources/{username}/{name}/documents/{documentId}", api.handleGetDocument)
	mux.HandleFunc("POST /api/data_sources/{username}/{name}/documents/{documentId}", api.handleUpsertDocument)
	mux.HandleFunc("DELETE /api/data_sources/{username}/{name}/documents/{documentId}", api.handleDeleteDocument)

	mux.HandleFunc("GET /v1/apps/{username}", api.handleV1ListApps)
	mux.HandleFunc("POST /v1/apps/{username}/{sId}/runs", api.handleV1CreateRun)
	mux.HandleFunc("GET /v1/apps/{username}/{sId}/runs", api.handleV1ListRuns)
	mux.HandleFunc("GET /v1/apps/{username}/{sId}/runs/{runId}", api.handleV1GetRun)
}

// resolveWebIdentity resolves the session principal and the addressed
// user in parallel. The two reads are independent; neither blocks the
// other.
func (api *frontAPI) resolveWebIdentity(r *http.Request, username string) (auth.Principal, domain.User, error) {
	principals := make(chan auth.Principal, 1)
	go func() {
		principals <- api.sessions.Resolve(r.Context(), r)
	}()

	owner, err := api.users.GetUserByUsername(r.Context(), username)
	principal := <-principals
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return principal, domain.User{}, apierror.NotFound("user_not_found",
				"The user you're trying to query was not found.")
		}
		return principal, domain.User{}, err
	}
	return principal, owner, nil
}

// resolveKeyIdentity is the programmatic twin: API key resolution and
// owner lookup, in parallel. Key failures win over a missing user so a
// bad credential never probes for usernames.
func (api *frontAPI) resolveKeyIdentity(r *http.Request, username string) (auth.Principal, domain.User, error) {
	type keyResult struct {
		principal auth.Principal
		err       error
	}
	results := make(chan keyResult, 1)
	go func() {
		principal, err := api.keyAuth.Resolve(r.Context(), r)
		results <- keyResult{principal: principal, err: err}
	}()

	owner, ownerErr := api.users.GetUserByUsername(r.Context(), username)
	res := <-results
	if res.err != nil {
		return auth.Principal{}, domain.User{}, res.err
	}
	if ownerErr != nil {
		if errors.Is(ownerErr, repo.ErrNotFound) {
			return res.principal, domain.User{}, apierror.NotFound("user_not_found",
				"The user you're trying to query was not found.")
		}
		return res.principal, domain.User{}, ownerErr
	}
	return res.principal, owner, nil
}

func (api *frontAPI) lookupApp(ctx context.Context, principal auth.Principal, owner domain.User, sID string) (domain.App, error) {
	app, err := api.apps.GetApp(ctx, auth.AppReadScope(principal, owner.ID), sID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.App{}, apierror.NotFound("app_not_found",
				"The app you're trying to access was not found.")
		}
		return domain.App{}, err
	}
	return app, nil
}

// requireSession resolves the web principal and rejects anonymous
// callers on mutating or account-scoped paths.
func (api *frontAPI) requireSession(r *http.Request) (auth.Principal, error) {
	principal := api.sessions.Resolve(r.Context(), r)
	if principal.Anonymous() {
		return auth.Principal{}, apierror.New(http.StatusUnauthorized, "not_authenticated_error",
			"This endpoint requires an authenticated session.")
	}
	return principal, nil
}

func (api *frontAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *frontAPI) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierror.From(err)
	if apiErr.Status >= http.StatusInternalServerError {
		api.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
	}
	api.writeJSON(w, apiErr.Status, map[string]any{"error": apiErr})
}

// writeUpstreamError forwards the engine's error object verbatim as a
// 400. Callers see exactly what the engine said.
func (api *frontAPI) writeUpstreamError(w http.ResponseWriter, r *http.Request, upstream *engine.UpstreamError) {
	api.logger.Warn("engine call failed",
		"path", r.URL.Path,
		"status", upstream.StatusCode,
		"type", upstream.Type,
	)
	if len(upstream.Body) == 0 {
		api.writeError(w, r, apierror.New(http.StatusBadGateway, "engine_unreachable_error",
			"The execution engine returned an unreadable response."))
		return
	}
	api.writeJSON(w, http.StatusBadRequest, map[string]any{"error": json.RawMessage(upstream.Body)})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return apierror.Invalid("The request body must be a single JSON object.")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return apierror.Invalid("The request body must be a single JSON object.")
	}
	return nil
}

func (api *frontAPI) recordAudit(r *http.Request, principal auth.Principal, action, resourceType, resourceID string, payload any) {
	if api.audit == nil {
		return
	}
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 750*time.Millisecond)
	defer cancel()
	_, err := auditlog.Insert(ctx, api.audit, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        principal.Username,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    requestID,
		IP:           requestIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	})
	if err != nil {
		api.logger.Warn("audit insert failed", "action", action, "error", err.Error())
	}
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
