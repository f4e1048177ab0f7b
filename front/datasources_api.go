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

type dataSourceView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
	Config      string `json:"config,omitempty"`
}

func formatDataSource(source domain.DataSource, includeConfig bool) dataSourceView {
	view := dataSourceView{
		Name:        source.Name,
		Description: source.Description,
		Visibility:  string(source.Visibility),
	}
	if includeConfig {
		view.Config = source.Config
	}
	return view
}

func (api *frontAPI) handleListDataSources(w http.ResponseWriter, r *http.Request) {
	principal, owner, err := api.resolveWebIdentity(r, r.PathValue("username"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	sources, err := api.dataSources.ListDataSources(r.Context(), auth.DataSourceReadScope(principal, owner.ID))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	views := make([]dataSourceView, 0, len(sources))
	for _, s := range sources {
		views = append(views, formatDataSource(s, auth.CanWrite(principal, s)))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"data_sources": views})
}

type createDataSourceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
	Config      string `json:"config"`
}

func (api *frontAPI) handleCreateDataSource(w http.ResponseWriter, r *http.Request) {
	principal, err := api.requireSession(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	var req createDataSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	visibility, err := domain.ParseVisibility(req.Visibility)
	if err != nil {
		api.writeError(w, r, apierror.Invalid("visibility must be private, unlisted or public."))
		return
	}

	projectID, err := api.engine.CreateProject(r.Context())
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	source := domain.DataSource{
		UserID:      principal.UserID,
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Visibility:  visibility,
		Config:      req.Config,
		ProjectID:   projectID,
	}
	if err := source.Validate(); err != nil {
		api.writeError(w, r, apierror.Invalid(err.Error()))
		return
	}

	var config json.RawMessage
	if strings.TrimSpace(req.Config) != "" {
		config = json.RawMessage(req.Config)
	}
	if err := api.engine.RegisterDataSource(r.Context(), projectID, source.Name, config); err != nil {
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		api.writeError(w, r, err)
		return
	}

	saved, err := api.dataSources.CreateDataSource(r.Context(), source)
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			api.writeError(w, r, apierror.New(http.StatusConflict, "data_source_already_exists_error",
				"A data source with this name already exists."))
			return
		}
		api.writeError(w, r, err)
		return
	}

	api.recordAudit(r, principal, "data_source.create", "data_source", saved.Name, nil)
	api.writeJSON(w, http.StatusCreated, map[string]any{"data_source": formatDataSource(saved, true)})
}

func (api *frontAPI) lookupDataSource(r *http.Request) (auth.Principal, domain.DataSource, error) {
	principal, owner, err := api.resolveWebIdentity(r, r.PathValue("username"))
	if err != nil {
		return principal, domain.DataSource{}, err
	}
	source, err := api.dataSources.GetDataSource(r.Context(),
		auth.DataSourceReadScope(principal, owner.ID), strings.TrimSpace(r.PathValue("name")))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return principal, domain.DataSource{}, apierror.NotFound("data_source_not_found",
				"The data source you're trying to access was not found.")
		}
		return principal, domain.DataSource{}, err
	}
	return principal, source, nil
}

func (api *frontAPI) handleGetDataSource(w http.ResponseWriter, r *http.Request) {
	principal, source, err := api.lookupDataSource(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"data_source": formatDataSource(source, auth.CanWrite(principal, source)),
	})
}

func (api *frontAPI) handleDeleteDataSource(w http.ResponseWriter, r *http.Request) {
	principal, source, err := api.lookupDataSource(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if !auth.CanWrite(principal, source) {
		api.writeError(w, r, apierror.New(http.StatusUnauthorized, "data_source_permission_error",
			"Only the data source owner can delete it."))
		return
	}

	if err := api.engine.DeleteDataSource(r.Context(), source.ProjectID, source.Name); err != nil {
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		if !errors.Is(err, engine.ErrNotFound) {
			api.writeError(w, r, err)
			return
		}
	}
	if err := api.dataSources.DeleteDataSource(r.Context(), source.ID); err != nil {
		api.writeError(w, r, err)
		return
	}

	api.recordAudit(r, principal, "data_source.delete", "data_source", source.Name, nil)
	api.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (api *frontAPI) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	_, source, err := api.lookupDataSource(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	limit := queryInt(r, "limit", 10)
	offset := queryInt(r, "offset", 0)
	documents, total, err := api.engine.ListDocuments(r.Context(), source.ProjectID, source.Name, limit, offset)
	if err != nil {
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"documents": documents, "total": total})
}

func (api *frontAPI) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	_, source, err := api.lookupDataSource(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	documentID := strings.TrimSpace(r.PathValue("documentId"))
	document, err := api.engine.GetDocument(r.Context(), source.ProjectID, source.Name, documentID)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			api.writeError(w, r, apierror.NotFound("document_not_found",
				"The document you're trying to retrieve was not found."))
			return
		}
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"document": document})
}

type upsertDocumentRequest struct {
	Text      string   `json:"text"`
	Tags      []string `json:"tags"`
	SourceURL *string  `json:"source_url"`
}

func (api *frontAPI) handleUpsertDocument(w http.ResponseWriter, r *http.Request) {
	principal, source, err := api.lookupDataSource(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if !auth.CanWrite(principal, source) {
		api.writeError(w, r, apierror.New(http.StatusUnauthorized, "data_source_permission_error",
			"Only the data source owner can write documents."))
		return
	}

	var req upsertDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		api.writeError(w, r, apierror.Invalid("text is required."))
		return
	}

	documentID := strings.TrimSpace(r.PathValue("documentId"))
	document, err := api.engine.UpsertDocument(r.Context(), source.ProjectID, source.Name,
		documentID, req.Text, req.Tags, req.SourceURL)
	if err != nil {
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		api.writeError(w, r, err)
		return
	}

	api.recordAudit(r, principal, "document.upsert", "data_source", source.Name,
		map[string]any{"document_id": documentID})
	api.writeJSON(w, http.StatusCreated, map[string]any{"document": document})
}

func (api *frontAPI) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	principal, source, err := api.lookupDataSource(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if !auth.CanWrite(principal, source) {
		api.writeError(w, r, apierror.New(http.StatusUnauthorized, "data_source_permission_error",
			"Only the data source owner can delete documents."))
		return
	}

	documentID := strings.TrimSpace(r.PathValue("documentId"))
	if err := api.engine.DeleteDocument(r.Context(), source.ProjectID, source.Name, documentID); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			api.writeError(w, r, apierror.NotFound("document_not_found",
				"The document you're trying to delete was not found."))
			return
		}
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		api.writeError(w, r, err)
		return
	}

	api.recordAudit(r, principal, "document.delete", "data_source", source.Name,
		map[string]any{"document_id": documentID})
	api.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
