package modules

import (
	"errors"
	"log/slog"

	"gorm.io/gorm"
)

// Sync upserts every registered module into the modules table. Failures for
// individual modules are logged and do not stop the others.
func Sync(db *gorm.DB, registry *Registry, logger *slog.Logger) {
	for _, m := range registry.List() {
		if err := syncModule(db, m); err != nil {
			logger.Warn("failed to sync module", "module", m.ID, "error", err)
			continue
		}
		logger.Debug("synced module", "module", m.ID, "version", m.Version)
	}
}

func syncModule(db *gorm.DB, m *Manifest) error {
	var row Module
	err := db.Where("module_id = ?", m.ID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = Module{
			ModuleID:       m.ID,
			Name:           m.Name,
			Description:    m.Description,
			Path:           m.Path,
			Icon:           m.Icon,
			Color:          m.Color,
			Version:        m.Version,
			DefaultEnabled: m.DefaultEnabled,
			Enabled:        true,
		}
		return db.Create(&row).Error
	} else if err != nil {
		return err
	}

	return db.Model(&row).Updates(map[string]any{
		"name":            m.Name,
		"description":     m.Description,
		"path":            m.Path,
		"icon":            m.Icon,
		"color":           m.Color,
		"version":         m.Version,
		"default_enabled": m.DefaultEnabled,
	}).Error
}
