// Package accounts owns user accounts, access requests and password resets.
package accounts

import (
	"context"
	"time"

	"github.com/nexus-dashboard/nexus/internal/models"
)

// Repository persists account records. Lookups return ErrUserNotFound,
// ErrRequestNotFound or ErrResetTokenInvalid for missing rows.
type Repository interface {
	CreateUser(ctx context.Context, user *models.User) error
	UserByID(ctx context.Context, id uint) (*models.User, error)
	UserByUID(ctx context.Context, uid string) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id uint) error

	CreateAccessRequest(ctx context.Context, req *models.AccessRequest) error
	AccessRequestByID(ctx context.Context, id uint) (*models.AccessRequest, error)
	ListAccessRequests(ctx context.Context, status string) ([]models.AccessRequest, error)
	DeleteAccessRequest(ctx context.Context, id uint) error

	CreatePasswordReset(ctx context.Context, reset *models.PasswordReset) error
	PasswordResetByHash(ctx context.Context, tokenHash string) (*models.PasswordReset, error)
	MarkPasswordResetUsed(ctx context.Context, id uint, at time.Time) error
	PurgePasswordResets(ctx context.Context, before time.Time) (int64, error)

	// UpsertIdentity creates or refreshes the identity for (provider, provider user id).
	UpsertIdentity(ctx context.Context, identity *models.AuthIdentity) error
}
