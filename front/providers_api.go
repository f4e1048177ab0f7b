package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/loomworks/loom-go/internal/apierror"
	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/repo"
)

type providerView struct {
	ProviderID string `json:"providerId"`
	Config     string `json:"config"`
}

func (api *frontAPI) handleListProviders(w http.ResponseWriter, r *http.Request) {
	principal, err := api.requireSession(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	providers, err := api.providers.ListProviders(r.Context(), principal.UserID)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	views := make([]providerView, 0, len(providers))
	for _, p := range providers {
		views = append(views, providerView{ProviderID: p.ProviderID, Config: p.Config})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"providers": views})
}

type upsertProviderRequest struct {
	Config string `json:"config"`
}

func (api *frontAPI) handleUpsertProvider(w http.ResponseWriter, r *http.Request) {
	principal, err := api.requireSession(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	var req upsertProviderRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}

	provider := domain.Provider{
		UserID:     principal.UserID,
		ProviderID: strings.TrimSpace(r.PathValue("providerId")),
		Config:     req.Config,
	}
	if err := provider.Validate(); err != nil {
		api.writeError(w, r, apierror.Invalid(err.Error()))
		return
	}

	saved, err := api.providers.UpsertProvider(r.Context(), provider)
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	api.recordAudit(r, principal, "provider.upsert", "provider", saved.ProviderID, nil)
	api.writeJSON(w, http.StatusOK, map[string]any{
		"provider": providerView{ProviderID: saved.ProviderID, Config: saved.Config},
	})
}

func (api *frontAPI) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	principal, err := api.requireSession(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	providerID := strings.TrimSpace(r.PathValue("providerId"))
	if err := api.providers.DeleteProvider(r.Context(), principal.UserID, providerID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, apierror.NotFound("provider_not_found",
				"The provider you're trying to delete was not found."))
			return
		}
		api.writeError(w, r, err)
		return
	}

	api.recordAudit(r, principal, "provider.delete", "provider", providerID, nil)
	api.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
