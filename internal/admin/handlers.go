// Package admin serves the account administration API: access request
// review and user management. Every route sits behind auth.RequireAdmin.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexus-dashboard/nexus/internal/accounts"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/auth"
	"github.com/nexus-dashboard/nexus/internal/crypto"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/modules"
)

// Errors
var (
	ErrDeleteSelf    = apperr.New(apperr.ErrForbidden, "cannot_delete_self", "admins cannot delete their own account")
	ErrUnknownModule = apperr.New(apperr.ErrInvalidInput, "unknown_module", "allow-list names an unknown module")
	ErrBadID         = apperr.New(apperr.ErrInvalidInput, "invalid_input", "id must be a positive integer")
)

// Notifier queues account mails.
type Notifier interface {
	EnqueuePasswordReset(ctx context.Context, email, token string) error
	EnqueueAccountApproved(ctx context.Context, email string) error
}

// Deps are the collaborators of the admin handlers.
type Deps struct {
	Accounts *accounts.Service
	Store    docstore.Store
	Modules  *modules.Registry
	Mail     Notifier
	Logger   *slog.Logger
}

// RegisterRoutes mounts the admin API on rg.
func RegisterRoutes(rg *gin.RouterGroup, d Deps) {
	rg.GET("/requests", ListRequestsHandler(d))
	rg.POST("/requests/:id/approve", ApproveHandler(d))
	rg.POST("/requests/:id/reject", RejectHandler(d))

	rg.GET("/users", ListUsersHandler(d))
	rg.POST("/users", CreateUserHandler(d))
	rg.PUT("/users/:id", UpdateUserHandler(d))
	rg.DELETE("/users/:id", DeleteUserHandler(d))
	rg.POST("/users/:id/password-reset", ResetPasswordHandler(d))
}

type requestView struct {
	ID        uint      `json:"id"`
	Email     string    `json:"email"`
	Reason    string    `json:"reason,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ListRequestsHandler lists pending access requests.
func ListRequestsHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqs, err := d.Accounts.PendingRequests(c.Request.Context())
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		out := make([]requestView, 0, len(reqs))
		for _, r := range reqs {
			out = append(out, requestView{ID: r.ID, Email: r.Email, Reason: r.Reason, Status: r.Status, CreatedAt: r.CreatedAt})
		}
		c.JSON(http.StatusOK, gin.H{"requests": out})
	}
}

// ApproveHandler creates the account for a request. The temporary password
// is returned in this response only.
func ApproveHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req struct {
			Password string `json:"password"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				apperr.BadRequest(c, err)
				return
			}
		}

		ctx := c.Request.Context()
		user, password, err := d.Accounts.ApproveRequest(ctx, id, req.Password)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		if err := d.Mail.EnqueueAccountApproved(ctx, user.Email); err != nil {
			d.Logger.Error("Failed to enqueue approval mail", "user_id", user.ID, "error", err)
		}
		d.Logger.Info("Access request approved", "request_id", id, "user_id", user.ID, "admin_id", auth.CurrentUser(c).ID)
		c.JSON(http.StatusCreated, gin.H{"user": auth.NewUserView(user), "temporary_password": password})
	}
}

// RejectHandler discards a request.
func RejectHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		if err := d.Accounts.RejectRequest(c.Request.Context(), id); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ListUsersHandler lists every account.
func ListUsersHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := d.Accounts.ListUsers(c.Request.Context())
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		out := make([]auth.UserView, 0, len(users))
		for i := range users {
			out = append(out, auth.NewUserView(&users[i]))
		}
		c.JSON(http.StatusOK, gin.H{"users": out})
	}
}

type createUserRequest struct {
	Email          string    `json:"email" validate:"required"`
	Name           string    `json:"name"`
	Password       string    `json:"password"`
	Role           string    `json:"role"`
	AllowedModules *[]string `json:"allowed_modules"`
}

// CreateUserHandler creates an account directly. Without a password a
// temporary one is generated and returned.
func CreateUserHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		in := accounts.NewUser{Email: req.Email, Name: req.Name, Password: req.Password, Role: req.Role}
		if req.AllowedModules != nil {
			if err := checkModules(d.Modules, *req.AllowedModules); err != nil {
				apperr.Respond(c, err)
				return
			}
			in.AllowedModules = append([]string{}, (*req.AllowedModules)...)
		}

		generated := ""
		if in.Password == "" {
			pwd, err := crypto.TemporaryPassword(12)
			if err != nil {
				apperr.Respond(c, err)
				return
			}
			in.Password, generated = pwd, pwd
		}

		user, err := d.Accounts.CreateUser(c.Request.Context(), in)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		body := gin.H{"user": auth.NewUserView(user)}
		if generated != "" {
			body["temporary_password"] = generated
		}
		c.JSON(http.StatusCreated, body)
	}
}

type updateUserRequest struct {
	Email          *string   `json:"email"`
	Name           *string   `json:"name"`
	Role           *string   `json:"role"`
	AllowedModules *[]string `json:"allowed_modules"`
}

// UpdateUserHandler edits email, name, role or allow-list.
func UpdateUserHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req updateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		if req.AllowedModules != nil {
			if err := checkModules(d.Modules, *req.AllowedModules); err != nil {
				apperr.Respond(c, err)
				return
			}
		}
		user, err := d.Accounts.UpdateUser(c.Request.Context(), id, accounts.UserUpdate{
			Email:          req.Email,
			Name:           req.Name,
			Role:           req.Role,
			AllowedModules: req.AllowedModules,
		})
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, auth.NewUserView(user))
	}
}

// DeleteUserHandler removes an account together with all of its documents.
func DeleteUserHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		admin := auth.CurrentUser(c)
		if admin.ID == id {
			apperr.Respond(c, ErrDeleteSelf)
			return
		}

		ctx := c.Request.Context()
		user, err := d.Accounts.DeleteUser(ctx, id)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		removed, err := d.Store.DeletePrefix(ctx, docstore.UserPrefix(user.UID))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		d.Logger.Info("User deleted", "user_id", user.ID, "documents", removed, "admin_id", admin.ID)
		c.Status(http.StatusNoContent)
	}
}

// ResetPasswordHandler mails a reset link to the account.
func ResetPasswordHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		user, err := d.Accounts.UserByID(ctx, id)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		_, token, err := d.Accounts.IssuePasswordReset(ctx, user.Email)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		if err := d.Mail.EnqueuePasswordReset(ctx, user.Email, token); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}
}

func checkModules(registry *modules.Registry, ids []string) error {
	for _, id := range ids {
		if _, ok := registry.Get(id); !ok {
			return ErrUnknownModule
		}
	}
	return nil
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		apperr.Respond(c, ErrBadID)
		return 0, false
	}
	return uint(id), true
}
