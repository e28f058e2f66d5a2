package auth

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/markbates/goth/gothic"
	"github.com/nexus-dashboard/nexus/internal/accounts"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/models"
)

// ResetNotifier delivers password reset links.
type ResetNotifier interface {
	EnqueuePasswordReset(ctx context.Context, email, token string) error
}

// UserView is the public shape of an account.
type UserView struct {
	ID             uint       `json:"id"`
	UID            string     `json:"uid"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	Role           string     `json:"role"`
	AllowedModules []string   `json:"allowed_modules"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewUserView converts an account for output.
func NewUserView(u *models.User) UserView {
	modules := u.AllowedModules
	if modules == nil {
		modules = []string{}
	}
	return UserView{
		ID:             u.ID,
		UID:            u.UID,
		Email:          u.Email,
		Name:           u.Name,
		Role:           u.Role,
		AllowedModules: modules,
		LastLoginAt:    u.LastLoginAt,
		CreatedAt:      u.CreatedAt,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// HandlePasswordLogin verifies credentials, starts a cookie session and
// returns a bearer token for API clients.
func HandlePasswordLogin(svc *accounts.Service, tokens *TokenIssuer, throttle *LoginThrottle) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		ctx := c.Request.Context()

		if err := throttle.Check(ctx, req.Email); err != nil {
			apperr.Respond(c, err)
			return
		}

		user, err := svc.Authenticate(ctx, req.Email, req.Password)
		if err != nil {
			if errors.Is(err, accounts.ErrInvalidCredentials) {
				if ferr := throttle.Failed(ctx, req.Email); ferr != nil {
					slog.Warn("Failed to record login failure", "error", ferr)
				}
			}
			apperr.Respond(c, err)
			return
		}
		if err := throttle.Succeeded(ctx, req.Email); err != nil {
			slog.Warn("Failed to reset login failures", "error", err)
		}

		if err := startSession(c, user); err != nil {
			apperr.Respond(c, err)
			return
		}
		token, err := tokens.Issue(user)
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		slog.Info("User signed in", "user_id", user.ID, "method", "password")
		c.JSON(http.StatusOK, gin.H{"token": token, "user": NewUserView(user)})
	}
}

// HandleLogout clears the session.
func HandleLogout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()

	if err := session.Save(); err != nil {
		log.Printf("Session clear error: %v", err)
	}
	c.Status(http.StatusNoContent)
}

// HandleMe returns the current account and its allow-list.
func HandleMe(c *gin.Context) {
	c.JSON(http.StatusOK, NewUserView(CurrentUser(c)))
}

// HandleGoogleLogin initiates the Google OAuth flow.
func HandleGoogleLogin(c *gin.Context) {
	// Gothic requires the "provider" query parameter
	q := c.Request.URL.Query()
	q.Set("provider", "google")
	c.Request.URL.RawQuery = q.Encode()

	gothic.BeginAuthHandler(c.Writer, c.Request)
}

// HandleGoogleCallback completes the OAuth flow and signs in the existing
// account with the same email. Unknown emails are refused.
func HandleGoogleCallback(svc *accounts.Service, baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := c.Request.URL.Query()
		q.Set("provider", "google")
		c.Request.URL.RawQuery = q.Encode()

		gothUser, err := gothic.CompleteUserAuth(c.Writer, c.Request)
		if err != nil {
			log.Printf("Auth error: %v", err)
			c.Redirect(http.StatusFound, baseURL+"/login?error=auth_failed")
			return
		}

		identity := models.AuthIdentity{
			Provider:       gothUser.Provider,
			ProviderUserID: gothUser.UserID,
			AccessToken:    gothUser.AccessToken,
			RefreshToken:   gothUser.RefreshToken,
		}
		if !gothUser.ExpiresAt.IsZero() {
			expiry := gothUser.ExpiresAt
			identity.TokenExpiry = &expiry
		}

		user, err := svc.LinkIdentity(c.Request.Context(), gothUser.Email, identity)
		if err != nil {
			_, code := apperr.Status(err)
			log.Printf("Auth link error for %s: %v", gothUser.Email, err)
			c.Redirect(http.StatusFound, baseURL+"/login?error="+code)
			return
		}

		if err := startSession(c, user); err != nil {
			log.Printf("Session save error: %v", err)
			c.Redirect(http.StatusFound, baseURL+"/login?error=session_failed")
			return
		}

		slog.Info("User signed in", "user_id", user.ID, "method", "google")
		c.Redirect(http.StatusFound, baseURL+"/")
	}
}

type resetRequest struct {
	Email string `json:"email" validate:"required"`
}

// HandleRequestPasswordReset always answers 202 so account existence is not
// revealed.
func HandleRequestPasswordReset(svc *accounts.Service, notifier ResetNotifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		ctx := c.Request.Context()

		user, token, err := svc.IssuePasswordReset(ctx, req.Email)
		switch {
		case errors.Is(err, accounts.ErrUserNotFound):
		case err != nil:
			slog.Error("Failed to issue password reset", "error", err)
		default:
			if err := notifier.EnqueuePasswordReset(ctx, user.Email, token); err != nil {
				slog.Error("Failed to enqueue password reset mail", "user_id", user.ID, "error", err)
			}
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	}
}

type resetConfirmRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// HandleConfirmPasswordReset sets a new password from a reset token.
func HandleConfirmPasswordReset(svc *accounts.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resetConfirmRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		if err := svc.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type accessRequestBody struct {
	Email  string `json:"email" validate:"required"`
	Reason string `json:"reason" validate:"max=1000"`
}

// HandleAccessRequest files a self-service request for an account.
func HandleAccessRequest(svc *accounts.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req accessRequestBody
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		created, err := svc.RequestAccess(c.Request.Context(), req.Email, req.Reason)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": created.ID, "status": created.Status})
	}
}

func startSession(c *gin.Context, user *models.User) error {
	session := sessions.Default(c)
	session.Clear()
	session.Set(sessionUserKey, user.ID)
	return session.Save()
}
