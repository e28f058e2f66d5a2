package models

import (
	"slices"
	"time"

	"gorm.io/gorm"
)

// Role values
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a Nexus account. UID is the stable public subject id used in
// document paths and share links; ID stays internal.
type User struct {
	gorm.Model
	UID            string   `gorm:"uniqueIndex;not null"`
	Email          string   `gorm:"uniqueIndex:idx_users_email_not_deleted,where:deleted_at IS NULL;not null"`
	Name           string   `gorm:"not null;default:''"`
	PasswordHash   string   `gorm:"not null;default:''"`
	Role           string   `gorm:"not null;default:'user'"` // enum: 'user' or 'admin'
	AllowedModules []string `gorm:"serializer:json;type:jsonb"`
	LastLoginAt    *time.Time

	// Associations
	AuthIdentities []AuthIdentity `gorm:"constraint:OnDelete:CASCADE;"`
}

// IsAdmin reports whether the account carries the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanAccess reports whether moduleID is on the account's allow-list.
func (u *User) CanAccess(moduleID string) bool {
	return slices.Contains(u.AllowedModules, moduleID)
}
