package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nexus-dashboard/nexus/internal/accounts"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/models"
)

const (
	sessionUserKey = "user_id"
	userContextKey = "auth.user"
)

// Errors
var (
	ErrUnauthenticated  = apperr.New(apperr.ErrUnauthorized, "unauthenticated", "sign in required")
	ErrAdminOnly        = apperr.New(apperr.ErrForbidden, "forbidden", "administrator role required")
	ErrModuleNotAllowed = apperr.New(apperr.ErrForbidden, "module_not_allowed", "module is not on your allow-list")
)

// UserLoader loads the current account row.
type UserLoader interface {
	UserByID(ctx context.Context, id uint) (*models.User, error)
}

// RequireAuth accepts a session cookie or an "Authorization: Bearer" token
// and loads the account. Unauthenticated requests get 401.
func RequireAuth(users UserLoader, tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := sessionUserID(c)
		if !ok {
			if raw := bearerToken(c.GetHeader("Authorization")); raw != "" {
				if claims, err := tokens.Parse(raw); err == nil {
					userID, ok = claims.UserID, true
				}
			}
		}
		if !ok {
			apperr.Respond(c, ErrUnauthenticated)
			return
		}

		user, err := users.UserByID(c.Request.Context(), userID)
		if errors.Is(err, accounts.ErrUserNotFound) {
			apperr.Respond(c, ErrUnauthenticated)
			return
		}
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		SetCurrentUser(c, user)
		c.Next()
	}
}

// RequireAdmin allows accounts whose stored role is admin.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil || !user.IsAdmin() {
			apperr.Respond(c, ErrAdminOnly)
			return
		}
		c.Next()
	}
}

// RequireModule allows accounts with moduleID on their allow-list.
func RequireModule(moduleID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		checkModule(c, moduleID)
	}
}

// RequireModuleParam is RequireModule with the module id taken from a path parameter.
func RequireModuleParam(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		checkModule(c, c.Param(param))
	}
}

func checkModule(c *gin.Context, moduleID string) {
	user := CurrentUser(c)
	if user == nil || !user.CanAccess(moduleID) {
		apperr.Respond(c, ErrModuleNotAllowed)
		return
	}
	c.Next()
}

// SetCurrentUser stores the authenticated account on the request context.
func SetCurrentUser(c *gin.Context, user *models.User) {
	c.Set(userContextKey, user)
	c.Set("user_id", user.ID)
}

// CurrentUser returns the authenticated account, or nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

// UID returns the authenticated account's public id.
func UID(c *gin.Context) string {
	if user := CurrentUser(c); user != nil {
		return user.UID
	}
	return ""
}

func sessionUserID(c *gin.Context) (uint, bool) {
	session := sessions.Default(c)
	id, ok := session.Get(sessionUserKey).(uint)
	return id, ok && id != 0
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
