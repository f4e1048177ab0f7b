package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/loomworks/loom-go/internal/apierror"
	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/repo"
)

type keyView struct {
	ID     int64  `json:"id"`
	Prefix string `json:"prefix"`
	Status string `json:"status"`
}

func (api *frontAPI) handleListKeys(w http.ResponseWriter, r *http.Request) {
	principal, err := api.requireSession(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	keys, err := api.keys.ListKeys(r.Context(), principal.UserID)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	views := make([]keyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, keyView{ID: k.ID, Prefix: k.Prefix, Status: string(k.Status)})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"keys": views})
}

// handleCreateKey mints a key and returns the secret exactly once. Only
// the hash and a display prefix are stored.
func (api *frontAPI) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	principal, err := api.requireSession(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	secret := newKeySecret()
	key, err := api.keys.CreateKey(r.Context(), domain.Key{
		UserID:     principal.UserID,
		SecretHash: domain.HashKeySecret(secret),
		Prefix:     domain.KeyPrefix(secret),
		Status:     domain.KeyStatusActive,
	})
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	api.recordAudit(r, principal, "key.create", "key", strconv.FormatInt(key.ID, 10), nil)
	api.writeJSON(w, http.StatusCreated, map[string]any{
		"key": map[string]any{
			"id":     key.ID,
			"secret": secret,
			"prefix": key.Prefix,
			"status": string(key.Status),
		},
	})
}

func (api *frontAPI) handleDisableKey(w http.ResponseWriter, r *http.Request) {
	api.updateKeyStatus(w, r, domain.KeyStatusDisabled, "key.disable")
}

func (api *frontAPI) handleEnableKey(w http.ResponseWriter, r *http.Request) {
	api.updateKeyStatus(w, r, domain.KeyStatusActive, "key.enable")
}

func (api *frontAPI) updateKeyStatus(w http.ResponseWriter, r *http.Request, status domain.KeyStatus, action string) {
	principal, err := api.requireSession(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	keyID, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("keyId")), 10, 64)
	if err != nil || keyID <= 0 {
		api.writeError(w, r, apierror.Invalid("keyId must be a positive integer."))
		return
	}

	if err := api.keys.UpdateKeyStatus(r.Context(), principal.UserID, keyID, status); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, apierror.NotFound("key_not_found",
				"The API key you're trying to update was not found."))
			return
		}
		api.writeError(w, r, err)
		return
	}

	api.recordAudit(r, principal, action, "key", strconv.FormatInt(keyID, 10), nil)
	api.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func newKeySecret() string {
	return "sk-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
