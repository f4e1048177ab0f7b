package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/loomworks/loom-go/internal/domain"
	"github.com/loomworks/loom-go/internal/platform/env"
	"github.com/loomworks/loom-go/internal/repo"
)

type SessionConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	CookieName     string
	CookieMaxAge   time.Duration
	CookieSecure   bool
	CookieSameSite string
}

func SessionConfigFromEnv() (SessionConfig, error) {
	maxAge, err := env.Duration("LOOM_SESSION_COOKIE_MAX_AGE", 24*time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}
	secure, err := env.Bool("LOOM_SESSION_COOKIE_SECURE", true)
	if err != nil {
		return SessionConfig{}, err
	}
	cfg := SessionConfig{
		IssuerURL:      env.String("LOOM_OIDC_ISSUER_URL", ""),
		ClientID:       env.String("LOOM_OIDC_CLIENT_ID", ""),
		ClientSecret:   env.String("LOOM_OIDC_CLIENT_SECRET", ""),
		RedirectURL:    env.String("LOOM_OIDC_REDIRECT_URL", ""),
		Scopes:         strings.Fields(env.String("LOOM_OIDC_SCOPES", "openid profile email")),
		CookieName:     env.String("LOOM_SESSION_COOKIE_NAME", "loom_session"),
		CookieMaxAge:   maxAge,
		CookieSecure:   secure,
		CookieSameSite: env.String("LOOM_SESSION_COOKIE_SAMESITE", "lax"),
	}
	if err := cfg.Validate(); err != nil {
		return SessionConfig{}, err
	}
	return cfg, nil
}

func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.IssuerURL) == "" {
		return errors.New("LOOM_OIDC_ISSUER_URL is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("LOOM_OIDC_CLIENT_ID is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return errors.New("LOOM_SESSION_COOKIE_NAME is required")
	}
	return nil
}

func (c SessionConfig) validateForLogin() error {
	if strings.TrimSpace(c.ClientSecret) == "" {
		return errors.New("LOOM_OIDC_CLIENT_SECRET is required")
	}
	if strings.TrimSpace(c.RedirectURL) == "" {
		return errors.New("LOOM_OIDC_REDIRECT_URL is required")
	}
	return nil
}

// SessionService verifies session cookies and runs the login flow. The
// cookie holds the raw OIDC ID token; the token subject maps to a stored
// user, created on first login.
type SessionService struct {
	cfg          SessionConfig
	verifier     *oidc.IDTokenVerifier
	oauth2Config oauth2.Config
	users        repo.UserRepository
	logger       *slog.Logger
}

func NewSessionService(ctx context.Context, cfg SessionConfig, users repo.UserRepository, logger *slog.Logger) (*SessionService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if users == nil {
		return nil, errors.New("user repository is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	return &SessionService{
		cfg:      cfg,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		users:  users,
		logger: logger,
	}, nil
}

// Resolve turns the request's session cookie into a Principal. A missing,
// invalid or unmapped token yields the anonymous principal: the web read
// path is open to anonymous callers for public and unlisted resources.
func (s *SessionService) Resolve(ctx context.Context, r *http.Request) Principal {
	rawToken := tokenFromCookie(r, s.cfg.CookieName)
	if rawToken == "" {
		return Principal{Origin: OriginAnonymous}
	}

	idToken, err := s.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Principal{Origin: OriginAnonymous}
	}

	user, err := s.users.GetUserByExternalID(ctx, idToken.Subject)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) && s.logger != nil {
			s.logger.Error("session user lookup failed", "error", err.Error())
		}
		return Principal{Origin: OriginAnonymous}
	}

	return Principal{UserID: user.ID, Username: user.Username, Origin: OriginSession}
}

func (s *SessionService) LoginHandler() (http.HandlerFunc, error) {
	if err := s.cfg.validateForLogin(); err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request) {
		returnTo := safeReturnTo(r.URL.Query().Get("return_to"))

		state, err := randomBase64URL(32)
		if err != nil {
			writeOAuthError(w, http.StatusInternalServerError, "internal_server_error")
			return
		}
		verifier, err := randomBase64URL(32)
		if err != nil {
			writeOAuthError(w, http.StatusInternalServerError, "internal_server_error")
			return
		}
		nonce, err := randomBase64URL(32)
		if err != nil {
			writeOAuthError(w, http.StatusInternalServerError, "internal_server_error")
			return
		}

		s.setShortCookie(w, "loom_oidc_state", state)
		s.setShortCookie(w, "loom_oidc_verifier", verifier)
		s.setShortCookie(w, "loom_oidc_nonce", nonce)
		s.setShortCookie(w, "loom_return_to", returnTo)

		redirectURL := s.oauth2Config.AuthCodeURL(
			state,
			oauth2.AccessTypeOnline,
			oauth2.SetAuthURLParam("code_challenge", pkceS256Challenge(verifier)),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
			oauth2.SetAuthURLParam("nonce", nonce),
		)
		http.Redirect(w, r, redirectURL, http.StatusFound)
	}, nil
}

func (s *SessionService) CallbackHandler() (http.HandlerFunc, error) {
	if err := s.cfg.validateForLogin(); err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request) {
		stateQuery := r.URL.Query().Get("state")
		code := r.URL.Query().Get("code")
		if stateQuery == "" || code == "" {
			writeOAuthError(w, http.StatusBadRequest, "missing_code_or_state")
			return
		}

		stateCookie := tokenFromCookie(r, "loom_oidc_state")
		if stateCookie == "" || stateCookie != stateQuery {
			writeOAuthError(w, http.StatusBadRequest, "invalid_state")
			return
		}

		codeVerifier := tokenFromCookie(r, "loom_oidc_verifier")
		nonceCookie := tokenFromCookie(r, "loom_oidc_nonce")
		returnTo := safeReturnTo(tokenFromCookie(r, "loom_return_to"))
		if codeVerifier == "" || nonceCookie == "" {
			writeOAuthError(w, http.StatusBadRequest, "missing_pkce_or_nonce")
			return
		}

		exchangeCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		token, err := s.oauth2Config.Exchange(exchangeCtx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
		if err != nil {
			writeOAuthError(w, http.StatusUnauthorized, "token_exchange_failed")
			return
		}

		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok || rawIDToken == "" {
			writeOAuthError(w, http.StatusUnauthorized, "missing_id_token")
			return
		}

		idToken, err := s.verifier.Verify(exchangeCtx, rawIDToken)
		if err != nil {
			writeOAuthError(w, http.StatusUnauthorized, "invalid_id_token")
			return
		}

		var claims struct {
			Nonce             string `json:"nonce"`
			Email             string `json:"email"`
			Name              string `json:"name"`
			PreferredUsername string `json:"preferred_username"`
		}
		if err := idToken.Claims(&claims); err != nil {
			writeOAuthError(w, http.StatusUnauthorized, "invalid_id_token_claims")
			return
		}
		if claims.Nonce == "" || claims.Nonce != nonceCookie {
			writeOAuthError(w, http.StatusUnauthorized, "invalid_nonce")
			return
		}

		if err := s.ensureUser(exchangeCtx, idToken.Subject, claims.PreferredUsername, claims.Email, claims.Name); err != nil {
			if s.logger != nil {
				s.logger.Error("user provisioning failed", "error", err.Error())
			}
			writeOAuthError(w, http.StatusInternalServerError, "internal_server_error")
			return
		}

		s.setCookie(w, s.cfg.CookieName, rawIDToken, s.cfg.CookieMaxAge)
		s.clearCookie(w, "loom_oidc_state")
		s.clearCookie(w, "loom_oidc_verifier")
		s.clearCookie(w, "loom_oidc_nonce")
		s.clearCookie(w, "loom_return_to")

		http.Redirect(w, r, returnTo, http.StatusFound)
	}, nil
}

func (s *SessionService) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.clearCookie(w, s.cfg.CookieName)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	}
}

func (s *SessionService) ensureUser(ctx context.Context, subject, preferredUsername, email, name string) error {
	_, err := s.users.GetUserByExternalID(ctx, subject)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	username := strings.TrimSpace(preferredUsername)
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}
	if username == "" {
		username = subject
	}
	_, err = s.users.CreateUser(ctx, domain.User{
		ExternalID: subject,
		Username:   username,
		Email:      email,
		Name:       name,
	})
	if errors.Is(err, repo.ErrConflict) {
		// Concurrent first login, or a username collision: retry with a
		// subject-derived username once.
		_, err = s.users.CreateUser(ctx, domain.User{
			ExternalID: subject,
			Username:   username + "-" + shortFingerprint(subject),
			Email:      email,
			Name:       name,
		})
	}
	return err
}

func (s *SessionService) setShortCookie(w http.ResponseWriter, name, value string) {
	s.setCookie(w, name, value, 10*time.Minute)
}

func (s *SessionService) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: parseSameSite(s.cfg.CookieSameSite),
	})
}

func (s *SessionService) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: parseSameSite(s.cfg.CookieSameSite),
	})
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"type":%q,"message":"Authentication failed."}}%s`, code, "\n")
}

func tokenFromCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func randomBase64URL(nBytes int) (string, error) {
	if nBytes <= 0 {
		return "", errors.New("nBytes must be positive")
	}
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceS256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func shortFingerprint(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:6]
}

func safeReturnTo(raw string) string {
	if raw == "" {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "/"
	}
	if u.IsAbs() {
		return "/"
	}
	if !strings.HasPrefix(u.Path, "/") {
		return "/"
	}
	if strings.HasPrefix(u.Path, "//") {
		return "/"
	}
	return u.Path
}

func parseSameSite(raw string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
