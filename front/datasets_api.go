package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/loomworks/loom-go/internal/apierror"
	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/engine"
	"github.com/loomworks/loom-go/internal/platform/auth"
	"github.com/loomworks/loom-go/internal/repo"
)

type datasetView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handleListAppDatasets merges the front registry with the engine's
// version listing so each dataset carries its head hash.
func (api *frontAPI) handleListAppDatasets(w http.ResponseWriter, r *http.Request) {
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

	datasets, err := api.datasets.ListDatasets(r.Context(), owner.ID, app.ID)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	listing, err := api.engine.ListDatasets(r.Context(), app.ProjectID)
	if err != nil {
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		api.writeError(w, r, err)
		return
	}

	type entry struct {
		datasetView
		Hash string `json:"hash,omitempty"`
	}
	views := make([]entry, 0, len(datasets))
	for _, d := range datasets {
		e := entry{datasetView: datasetView{Name: d.Name, Description: d.Description}}
		if versions := listing[d.Name]; len(versions) > 0 {
			e.Hash = versions[0].Hash
		}
		views = append(views, e)
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"datasets": views})
}

type createDatasetRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data"`
}

func (api *frontAPI) handleCreateAppDataset(w http.ResponseWriter, r *http.Request) {
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
			"Only the app owner can manage its datasets."))
		return
	}

	var req createDatasetRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		api.writeError(w, r, apierror.Invalid("name is required."))
		return
	}
	if len(req.Data) == 0 {
		api.writeError(w, r, apierror.Invalid("data is required."))
		return
	}

	version, err := api.engine.RegisterDataset(r.Context(), app.ProjectID, req.Name, req.Data)
	if err != nil {
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		api.writeError(w, r, err)
		return
	}

	dataset, err := api.datasets.CreateDataset(r.Context(), domain.Dataset{
		UserID:      owner.ID,
		AppID:       app.ID,
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil && !errors.Is(err, repo.ErrConflict) {
		api.writeError(w, r, err)
		return
	}
	if errors.Is(err, repo.ErrConflict) {
		// Same name means a new version of an existing dataset; refresh
		// the description if the caller changed it.
		existing, getErr := api.datasets.GetDataset(r.Context(), owner.ID, app.ID, strings.TrimSpace(req.Name))
		if getErr != nil {
			api.writeError(w, r, getErr)
			return
		}
		if strings.TrimSpace(req.Description) != existing.Description {
			if updErr := api.datasets.UpdateDataset(r.Context(), existing.ID, strings.TrimSpace(req.Description)); updErr != nil {
				api.writeError(w, r, updErr)
				return
			}
		}
		dataset = existing
	}

	api.recordAudit(r, principal, "dataset.register", "dataset", dataset.Name, map[string]any{"hash": version.Hash})
	api.writeJSON(w, http.StatusCreated, map[string]any{
		"dataset": map[string]any{
			"name":        dataset.Name,
			"description": strings.TrimSpace(req.Description),
			"hash":        version.Hash,
		},
	})
}

func (api *frontAPI) handleGetAppDataset(w http.ResponseWriter, r *http.Request) {
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

	name := strings.TrimSpace(r.PathValue("name"))
	dataset, err := api.datasets.GetDataset(r.Context(), owner.ID, app.ID, name)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, apierror.NotFound("dataset_not_found",
				"The dataset you're trying to retrieve was not found."))
			return
		}
		api.writeError(w, r, err)
		return
	}

	listing, err := api.engine.ListDatasets(r.Context(), app.ProjectID)
	if err != nil {
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		api.writeError(w, r, err)
		return
	}
	versions := listing[dataset.Name]
	if len(versions) == 0 {
		api.writeError(w, r, apierror.NotFound("dataset_not_found",
			"The dataset has no registered versions."))
		return
	}

	data, err := api.engine.GetDatasetData(r.Context(), app.ProjectID, dataset.Name, versions[0].Hash)
	if err != nil {
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		api.writeError(w, r, err)
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"dataset": map[string]any{
			"name":        dataset.Name,
			"description": dataset.Description,
			"hash":        versions[0].Hash,
			"data":        data,
		},
	})
}

func (api *frontAPI) handleDeleteAppDataset(w http.ResponseWriter, r *http.Request) {
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
			"Only the app owner can manage its datasets."))
		return
	}

	name := strings.TrimSpace(r.PathValue("name"))
	dataset, err := api.datasets.GetDataset(r.Context(), owner.ID, app.ID, name)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, apierror.NotFound("dataset_not_found",
				"The dataset you're trying to delete was not found."))
			return
		}
		api.writeError(w, r, err)
		return
	}

	// Registry-only delete: engine-side versions stay addressable by
	// hash so existing runs remain replayable.
	if err := api.datasets.DeleteDataset(r.Context(), dataset.ID); err != nil {
		api.writeError(w, r, err)
		return
	}

	api.recordAudit(r, principal, "dataset.delete", "dataset", dataset.Name, nil)
	api.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
