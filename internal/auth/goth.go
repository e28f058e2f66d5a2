package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"
	"github.com/nexus-dashboard/nexus/internal/config"
)

// oauthStateMaxAge bounds how long a started Google sign-in stays valid.
const oauthStateMaxAge = 600

// InitProviders configures "Sign in with Google". It returns false when no
// client id is configured; the OAuth routes are then not mounted and only
// password sign-in is available.
func InitProviders(cfg *config.Config) bool {
	gothic.Store = oauthStateStore(cfg)

	if cfg.GoogleClientID == "" {
		slog.Warn("GOOGLE_CLIENT_ID not set, Google sign-in is disabled")
		return false
	}

	goth.UseProviders(google.New(
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		callbackURL(cfg),
		"email", "profile",
	))
	slog.Info("Google sign-in enabled")
	return true
}

// oauthStateStore holds only the OAuth state between redirect and callback.
// It is a gorilla store separate from the gin session cookie; gothic's
// default is Secure, which breaks plain-HTTP development.
func oauthStateStore(cfg *config.Config) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

func callbackURL(cfg *config.Config) string {
	if cfg.GoogleCallbackURL != "" {
		return cfg.GoogleCallbackURL
	}
	return strings.TrimRight(cfg.BaseURL, "/") + "/auth/google/callback"
}
