package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/loomworks/loom-go/internal/apierror"
	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/engine"
	"github.com/loomworks/loom-go/internal/platform/auth"
	"github.com/loomworks/loom-go/internal/repo"
)

type appView struct {
	SID         string `json:"sId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
}

type appDetailView struct {
	appView
	SavedSpecification string `json:"savedSpecification,omitempty"`
	SavedConfig        string `json:"savedConfig,omitempty"`
	SavedRun           string `json:"savedRun,omitempty"`
}

func formatApp(app domain.App) appView {
	return appView{
		SID:         app.SID,
		Name:        app.Name,
		Description: app.Description,
		Visibility:  string(app.Visibility),
	}
}

func formatAppDetail(app domain.App, includeSaved bool) appDetailView {
	view := appDetailView{appView: formatApp(app)}
	if includeSaved {
		view.SavedSpecification = app.SavedSpecification
		view.SavedConfig = app.SavedConfig
		view.SavedRun = app.SavedRun
	}
	return view
}

func (api *frontAPI) handleListOwnApps(w http.ResponseWriter, r *http.Request) {
	principal, err := api.requireSession(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	apps, err := api.apps.ListApps(r.Context(), repo.OwnerScope(principal.UserID))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	views := make([]appView, 0, len(apps))
	for _, app := range apps {
		views = append(views, formatApp(app))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"apps": views})
}

func (api *frontAPI) handleListUserApps(w http.ResponseWriter, r *http.Request) {
	principal, owner, err := api.resolveWebIdentity(r, r.PathValue("username"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	apps, err := api.apps.ListApps(r.Context(), auth.AppReadScope(principal, owner.ID))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	views := make([]appView, 0, len(apps))
	for _, app := range apps {
		views = append(views, formatApp(app))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"apps": views})
}

func (api *frontAPI) handleV1ListApps(w http.ResponseWriter, r *http.Request) {
	principal, owner, err := api.resolveKeyIdentity(r, r.PathValue("username"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	apps, err := api.apps.ListApps(r.Context(), auth.AppReadScope(principal, owner.ID))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	views := make([]appView, 0, len(apps))
	for _, app := range apps {
		views = append(views, formatApp(app))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"apps": views})
}

type createAppRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
}

func (api *frontAPI) handleCreateApp(w http.ResponseWriter, r *http.Request) {
	principal, err := api.requireSession(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	var req createAppRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	visibility, err := domain.ParseVisibility(req.Visibility)
	if err != nil {
		api.writeError(w, r, apierror.Invalid("visibility must be private, unlisted or public."))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		api.writeError(w, r, apierror.Invalid("name is required."))
		return
	}

	projectID, err := api.engine.CreateProject(r.Context())
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	app, err := api.apps.CreateApp(r.Context(), domain.App{
		UID:         uuid.NewString(),
		SID:         newSID(),
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Visibility:  visibility,
		ProjectID:   projectID,
		UserID:      principal.UserID,
	})
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			api.writeError(w, r, apierror.New(http.StatusConflict, "app_already_exists_error",
				"An app with this identifier already exists."))
			return
		}
		api.writeError(w, r, err)
		return
	}

	api.recordAudit(r, principal, "app.create", "app", app.SID, map[string]any{"name": app.Name})
	api.writeJSON(w, http.StatusCreated, map[string]any{"app": formatAppDetail(app, true)})
}

func (api *frontAPI) handleGetApp(w http.ResponseWriter, r *http.Request) {
	principal, owner, err := api.resolveWebIdentity(r, r.PathValue("username"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	app, err := api.lookupApp(r.Context(), principal, owner, r.PathValue("sId"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	// Saved editor state is only the owner's business.
	api.writeJSON(w, http.StatusOK, map[string]any{
		"app": formatAppDetail(app, auth.CanWrite(principal, app)),
	})
}

type updateAppSettingsRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
}

func (api *frontAPI) handleUpdateAppSettings(w http.ResponseWriter, r *http.Request) {
	principal, owner, err := api.resolveWebIdentity(r, r.PathValue("username"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	app, err := api.lookupApp(r.Context(), principal, owner, r.PathValue("sId"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if !auth.CanWrite(principal, app) {
		api.writeError(w, r, apierror.New(http.StatusUnauthorized, "app_permission_error",
			"Only the app owner can change its settings."))
		return
	}

	var req updateAppSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	visibility, err := domain.ParseVisibility(req.Visibility)
	if err != nil {
		api.writeError(w, r, apierror.Invalid("visibility must be private, unlisted or public."))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		api.writeError(w, r, apierror.Invalid("name is required."))
		return
	}

	if err := api.apps.UpdateAppSettings(r.Context(), app.ID,
		strings.TrimSpace(req.Name), strings.TrimSpace(req.Description), visibility); err != nil {
		api.writeError(w, r, err)
		return
	}

	app.Name = strings.TrimSpace(req.Name)
	app.Description = strings.TrimSpace(req.Description)
	app.Visibility = visibility
	api.recordAudit(r, principal, "app.update_settings", "app", app.SID, nil)
	api.writeJSON(w, http.StatusOK, map[string]any{"app": formatAppDetail(app, true)})
}

func (api *frontAPI) handleDeleteApp(w http.ResponseWriter, r *http.Request) {
	principal, owner, err := api.resolveWebIdentity(r, r.PathValue("username"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	app, err := api.lookupApp(r.Context(), principal, owner, r.PathValue("sId"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if !auth.CanWrite(principal, app) {
		api.writeError(w, r, apierror.New(http.StatusUnauthorized, "app_permission_error",
			"Only the app owner can delete it."))
		return
	}

	if err := api.apps.DeleteApp(r.Context(), app.ID); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.recordAudit(r, principal, "app.delete", "app", app.SID, nil)
	api.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleCloneApp copies a readable app into the caller's account with a
// fresh engine project, recording lineage. The clone starts from the
// source's saved state.
func (api *frontAPI) handleCloneApp(w http.ResponseWriter, r *http.Request) {
	principal, owner, err := api.resolveWebIdentity(r, r.PathValue("username"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if principal.Anonymous() {
		api.writeError(w, r, apierror.New(http.StatusUnauthorized, "not_authenticated_error",
			"Cloning an app requires an authenticated session."))
		return
	}
	source, err := api.lookupApp(r.Context(), principal, owner, r.PathValue("sId"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	projectID, err := api.engine.CreateProject(r.Context())
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	clone, err := api.apps.CreateApp(r.Context(), domain.App{
		UID:                uuid.NewString(),
		SID:                newSID(),
		Name:               source.Name,
		Description:        source.Description,
		Visibility:         domain.VisibilityPrivate,
		SavedSpecification: source.SavedSpecification,
		SavedConfig:        source.SavedConfig,
		ProjectID:          projectID,
		UserID:             principal.UserID,
	})
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	if err := api.copyAppDatasets(r.Context(), owner.ID, principal.UserID, source, clone); err != nil {
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		api.writeError(w, r, err)
		return
	}

	if _, err := api.clones.CreateClone(r.Context(), domain.Clone{FromID: source.ID, ToID: clone.ID}); err != nil {
		api.writeError(w, r, err)
		return
	}

	api.recordAudit(r, principal, "app.clone", "app", clone.SID, map[string]any{"from": source.SID})
	api.writeJSON(w, http.StatusCreated, map[string]any{"app": formatAppDetail(clone, true)})
}

// copyAppDatasets carries the source app's datasets into the clone:
// registry rows under the new owner, head-hash data pushed into the new
// engine project so the cloned specification keeps resolving.
func (api *frontAPI) copyAppDatasets(ctx context.Context, sourceOwnerID, cloneOwnerID int64, source, clone domain.App) error {
	datasets, err := api.datasets.ListDatasets(ctx, sourceOwnerID, source.ID)
	if err != nil {
		return err
	}
	if len(datasets) == 0 {
		return nil
	}

	listing, err := api.engine.ListDatasets(ctx, source.ProjectID)
	if err != nil {
		return err
	}

	for _, dataset := range datasets {
		if versions := listing[dataset.Name]; len(versions) > 0 {
			data, err := api.engine.GetDatasetData(ctx, source.ProjectID, dataset.Name, versions[0].Hash)
			if err != nil {
				return err
			}
			if _, err := api.engine.RegisterDataset(ctx, clone.ProjectID, dataset.Name, data); err != nil {
				return err
			}
		}
		if _, err := api.datasets.CreateDataset(ctx, domain.Dataset{
			UserID:      cloneOwnerID,
			AppID:       clone.ID,
			Name:        dataset.Name,
			Description: dataset.Description,
		}); err != nil {
			return err
		}
	}
	return nil
}

// newSID mints the short public identifier used in app URLs.
func newSID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}
