package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexus-dashboard/nexus/internal/models"
	"gorm.io/gorm"
)

// GormRepository stores accounts in Postgres.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a GormRepository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *GormRepository) UserByID(ctx context.Context, id uint) (*models.User, error) {
	return r.findUser(ctx, "id = ?", id)
}

func (r *GormRepository) UserByUID(ctx context.Context, uid string) (*models.User, error) {
	return r.findUser(ctx, "uid = ?", uid)
}

func (r *GormRepository) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findUser(ctx, "email = ?", email)
}

func (r *GormRepository) findUser(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

func (r *GormRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).Order("email").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (r *GormRepository) SaveUser(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// DeleteUser hard-deletes the row so the email can be reused.
func (r *GormRepository) DeleteUser(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Unscoped().Delete(&models.User{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *GormRepository) CreateAccessRequest(ctx context.Context, req *models.AccessRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("failed to create access request: %w", err)
	}
	return nil
}

func (r *GormRepository) AccessRequestByID(ctx context.Context, id uint) (*models.AccessRequest, error) {
	var req models.AccessRequest
	if err := r.db.WithContext(ctx).First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to find access request: %w", err)
	}
	return &req, nil
}

func (r *GormRepository) ListAccessRequests(ctx context.Context, status string) ([]models.AccessRequest, error) {
	var reqs []models.AccessRequest
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at").Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to list access requests: %w", err)
	}
	return reqs, nil
}

func (r *GormRepository) DeleteAccessRequest(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Unscoped().Delete(&models.AccessRequest{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete access request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (r *GormRepository) CreatePasswordReset(ctx context.Context, reset *models.PasswordReset) error {
	if err := r.db.WithContext(ctx).Omit("User").Create(reset).Error; err != nil {
		return fmt.Errorf("failed to store password reset: %w", err)
	}
	return nil
}

func (r *GormRepository) PasswordResetByHash(ctx context.Context, tokenHash string) (*models.PasswordReset, error) {
	var reset models.PasswordReset
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&reset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, fmt.Errorf("failed to find password reset: %w", err)
	}
	return &reset, nil
}

func (r *GormRepository) MarkPasswordResetUsed(ctx context.Context, id uint, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.PasswordReset{}).Where("id = ?", id).Update("used_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to mark password reset used: %w", err)
	}
	return nil
}

func (r *GormRepository) PurgePasswordResets(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ? OR used_at IS NOT NULL", before).
		Delete(&models.PasswordReset{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge password resets: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *GormRepository) UpsertIdentity(ctx context.Context, identity *models.AuthIdentity) error {
	var existing models.AuthIdentity
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_user_id = ?", identity.Provider, identity.ProviderUserID).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := r.db.WithContext(ctx).Create(identity).Error; err != nil {
			return fmt.Errorf("failed to create identity: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to find identity: %w", err)
	}

	identity.ID = existing.ID
	identity.CreatedAt = existing.CreatedAt
	if err := r.db.WithContext(ctx).Save(identity).Error; err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	return nil
}
