package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/loomworks/loom-go/internal/apierror"
	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/repo"
)

// KeyGetter is the key lookup the authenticator needs.
type KeyGetter interface {
	GetKeyBySecretHash(ctx context.Context, secretHash string) (domain.Key, error)
}

// UserByIDGetter resolves the key's owning user.
type UserByIDGetter interface {
	GetUserByID(ctx context.Context, id int64) (domain.User, error)
}

// KeyAuthenticator resolves bearer API keys against stored hashed key
// records. Resolution never mutates state.
type KeyAuthenticator struct {
	Keys  KeyGetter
	Users UserByIDGetter
}

func (a *KeyAuthenticator) Resolve(ctx context.Context, r *http.Request) (Principal, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return Principal{}, apierror.New(http.StatusUnauthorized, "missing_api_key_error",
			"The request is missing an Authorization header.")
	}
	scheme, secret, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(secret) == "" {
		return Principal{}, apierror.New(http.StatusUnauthorized, "malformed_authorization_header_error",
			"The Authorization header must be of the form: Bearer <api key>.")
	}

	key, err := a.Keys.GetKeyBySecretHash(ctx, domain.HashKeySecret(strings.TrimSpace(secret)))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Principal{}, apierror.New(http.StatusUnauthorized, "invalid_api_key_error",
				"The API key provided is invalid.")
		}
		return Principal{}, err
	}
	if key.Status != domain.KeyStatusActive {
		return Principal{}, apierror.New(http.StatusUnauthorized, "disabled_api_key_error",
			"The API key provided is disabled.")
	}

	user, err := a.Users.GetUserByID(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Principal{}, apierror.New(http.StatusUnauthorized, "invalid_api_key_error",
				"The API key provided is invalid.")
		}
		return Principal{}, err
	}

	return Principal{UserID: user.ID, Username: user.Username, Origin: OriginKey}, nil
}
