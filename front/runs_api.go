package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loomworks/loom-go/internal/apierror"
	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/engine"
	"github.com/loomworks/loom-go/internal/platform/auth"
	"github.com/loomworks/loom-go/internal/platform/objectstore"
	"github.com/loomworks/loom-go/internal/repo"
	"github.com/loomworks/loom-go/internal/runreq"
)

// runView is the caller-facing run shape: app_hash becomes
// specification_hash and succeeded runs expose the final block's
// outputs as results.
type runView struct {
	RunID             string              `json:"run_id"`
	CreatedAt         int64               `json:"created,omitempty"`
	RunType           string              `json:"run_type,omitempty"`
	SpecificationHash string              `json:"specification_hash,omitempty"`
	Config            json.RawMessage     `json:"config,omitempty"`
	Status            engine.RunStatus    `json:"status"`
	Traces            [][]json.RawMessage `json:"traces"`
	Results           json.RawMessage     `json:"results"`
}

func formatRun(run engine.Run) runView {
	view := runView{
		RunID:             run.RunID,
		CreatedAt:         run.CreatedAt,
		RunType:           run.RunType,
		SpecificationHash: run.AppHash,
		Config:            run.Config,
		Status:            run.Status,
		Traces:            run.Traces,
		Results:           nil,
	}
	if run.Status.Run == "succeeded" && len(run.Traces) > 0 {
		last := run.Traces[len(run.Traces)-1]
		if len(last) > 1 {
			view.Results = last[1]
		}
	}
	return view
}

func (api *frontAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
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
			"Only the app owner can trigger runs on it."))
		return
	}
	api.createRun(w, r, principal, owner.ID, app)
}

func (api *frontAPI) handleV1CreateRun(w http.ResponseWriter, r *http.Request) {
	principal, owner, err := api.resolveKeyIdentity(r, r.PathValue("username"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if principal.UserID != owner.ID {
		api.writeError(w, r, errAppUserMismatch())
		return
	}
	app, err := api.lookupApp(r.Context(), principal, owner, r.PathValue("sId"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.createRun(w, r, principal, owner.ID, app)
}

// errAppUserMismatch rejects cross-user programmatic access: an API key
// only ever operates on its owner's apps, public or not.
func errAppUserMismatch() *apierror.Error {
	return apierror.New(http.StatusUnauthorized, "app_user_mismatch_error",
		"Only apps that you own can be interacted with by API (you can clone this app to run it).")
}

func (api *frontAPI) createRun(w http.ResponseWriter, r *http.Request, principal auth.Principal, ownerID int64, app domain.App) {
	var req runreq.Request
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	if err := runreq.ValidateMode(req.Mode); err != nil {
		api.writeError(w, r, err)
		return
	}
	if api.runLimiter != nil && !api.runLimiter.Allow(strconv.FormatInt(principal.UserID, 10)) {
		api.writeError(w, r, apierror.New(http.StatusTooManyRequests, "rate_limit_error",
			"You have triggered too many runs, please retry later."))
		return
	}

	providers, err := api.providers.ListProviders(r.Context(), ownerID)
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	params, err := runreq.Build(r.Context(), api.engine, app.ProjectID, req, providers)
	if err != nil {
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		api.writeError(w, r, err)
		return
	}

	switch req.Mode {
	case runreq.ModeExecute:
		api.executeRun(w, r, app, params)
	case runreq.ModeDesign:
		api.designRun(w, r, principal, app, req, params)
	}
}

// executeRun relays the engine's event stream to the caller chunk by
// chunk. The upstream request is bound to the caller's context, so a
// downstream disconnect cancels the engine call.
func (api *frontAPI) executeRun(w http.ResponseWriter, r *http.Request, app domain.App, params engine.RunRequestParams) {
	upstreamBody, err := api.engine.StreamRun(r.Context(), app.ProjectID, params)
	if err != nil {
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		api.writeError(w, r, err)
		return
	}
	defer upstreamBody.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.writeError(w, r, apierror.New(http.StatusInternalServerError, "internal_server_error",
			"Streaming is not supported by this connection."))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// One chunk in flight at a time; each is written and flushed before
	// the next read. A mid-stream failure ends the response without a
	// trailing error frame.
	buf := make([]byte, 4096)
	for {
		n, readErr := upstreamBody.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				api.logger.Warn("run stream relay aborted", "app", app.SID, "error", writeErr.Error())
				return
			}
			flusher.Flush()
		}
		if readErr != nil {
			if readErr != io.EOF {
				api.logger.Warn("run stream read failed", "app", app.SID, "error", readErr.Error())
			}
			return
		}
	}
}

func (api *frontAPI) designRun(w http.ResponseWriter, r *http.Request, principal auth.Principal, app domain.App, req runreq.Request, params engine.RunRequestParams) {
	run, err := api.engine.CreateRun(r.Context(), app.ProjectID, params)
	if err != nil {
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		api.writeError(w, r, err)
		return
	}

	// A hash-only design run omits the specification so the previously
	// saved one stays in place.
	specification := ""
	if req.Specification != nil {
		specification = *req.Specification
	}
	if err := api.apps.UpdateSavedRun(r.Context(), app.ID, repo.SavedRunUpdate{
		Specification: req.Specification,
		Config:        req.Config,
		RunID:         run.RunID,
	}); err != nil {
		api.writeError(w, r, err)
		return
	}

	api.archiveRunSnapshot(r, app, specification, req.Config, run.RunID)
	api.recordAudit(r, principal, "run.design", "app", app.SID, map[string]any{"run_id": run.RunID})
	api.writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

// archiveRunSnapshot writes the designed spec and config to the object
// store. Best effort: archive failures never fail the run.
func (api *frontAPI) archiveRunSnapshot(r *http.Request, app domain.App, specification, config, runID string) {
	if api.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	err := api.archive.PutRunSnapshot(ctx, objectstore.RunSnapshot{
		RunID:         runID,
		AppSID:        app.SID,
		ProjectID:     app.ProjectID,
		Specification: specification,
		Config:        config,
	})
	if err != nil {
		api.logger.Warn("run snapshot archive failed", "run_id", runID, "error", err.Error())
	}
}

func (api *frontAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
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
	api.listRuns(w, r, app)
}

func (api *frontAPI) handleV1ListRuns(w http.ResponseWriter, r *http.Request) {
	principal, owner, err := api.resolveKeyIdentity(r, r.PathValue("username"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if principal.UserID != owner.ID {
		api.writeError(w, r, errAppUserMismatch())
		return
	}
	app, err := api.lookupApp(r.Context(), principal, owner, r.PathValue("sId"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.listRuns(w, r, app)
}

func (api *frontAPI) listRuns(w http.ResponseWriter, r *http.Request, app domain.App) {
	limit := queryInt(r, "limit", 10)
	offset := queryInt(r, "offset", 0)
	runType := strings.TrimSpace(r.URL.Query().Get("runType"))
	if runType == "" {
		runType = "local"
	}

	runs, total, err := api.engine.ListRuns(r.Context(), app.ProjectID, limit, offset, runType)
	if err != nil {
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeUpstreamError(w, r, upstream)
			return
		}
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "total": total})
}

func (api *frontAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
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
	api.getRun(w, r, app)
}

func (api *frontAPI) handleV1GetRun(w http.ResponseWriter, r *http.Request) {
	principal, owner, err := api.resolveKeyIdentity(r, r.PathValue("username"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if principal.UserID != owner.ID {
		api.writeError(w, r, errAppUserMismatch())
		return
	}
	app, err := api.lookupApp(r.Context(), principal, owner, r.PathValue("sId"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.getRun(w, r, app)
}

func (api *frontAPI) getRun(w http.ResponseWriter, r *http.Request, app domain.App) {
	runID := strings.TrimSpace(r.PathValue("runId"))
	run, err := api.engine.GetRun(r.Context(), app.ProjectID, runID)
	if err != nil {
		var upstream *engine.UpstreamError
		if errors.As(err, &upstream) {
			api.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{
					"type":      "run_error",
					"message":   "There was an error retrieving the run.",
					"run_error": json.RawMessage(upstream.Body),
				},
			})
			return
		}
		if errors.Is(err, engine.ErrNotFound) {
			api.writeError(w, r, apierror.NotFound("run_not_found",
				"The run you're trying to retrieve was not found."))
			return
		}
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"run": formatRun(run)})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
