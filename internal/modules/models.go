package modules

import (
	"gorm.io/gorm"
)

// Module is the persisted copy of a manifest. Admin tooling reads it to
// offer the set of grantable modules.
type Module struct {
	gorm.Model
	ModuleID       string `gorm:"column:module_id;uniqueIndex;not null"`
	Name           string `gorm:"not null"`
	Description    string `gorm:"type:text"`
	Path           string
	Icon           string
	Color          string
	Version        string `gorm:"not null"`
	DefaultEnabled bool   `gorm:"column:default_enabled;default:false"`
	Enabled        bool   `gorm:"default:true"`
}
