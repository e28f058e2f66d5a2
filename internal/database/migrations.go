package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations brings the schema (accounts, module catalog and the
// documents table) up to the latest embedded version.
func RunMigrations(db *gorm.DB, logger *slog.Logger) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Build the migrator over the embedded SQL files
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	// Apply pending migrations; ErrNoChange means already current
	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Report where the schema ended up
	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", verr)
	}
	logger.Info("Database schema ready", "version", version, "dirty", dirty, "changed", err == nil)
	return nil
}

func newMigrator(db *gorm.DB) (*migrate.Migrate, error) {
	// Get underlying sql.DB for the migrate driver
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Create iofs source from embedded filesystem
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	// Create database driver for Postgres
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}
