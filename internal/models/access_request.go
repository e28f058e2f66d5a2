package models

import "gorm.io/gorm"

// Access request status constants
const (
	AccessRequestPending = "pending"
)

// AccessRequest is a self-service request for an account, reviewed by an admin.
// Approval and rejection both delete the row.
type AccessRequest struct {
	gorm.Model
	Email  string `gorm:"not null;index"`
	Reason string `gorm:"type:text"`
	Status string `gorm:"not null;default:'pending'"`
}
