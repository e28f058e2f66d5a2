package database

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nexus-dashboard/nexus/internal/accounts"
	"github.com/nexus-dashboard/nexus/internal/models"
)

// SeedAdmin creates the bootstrap admin account from ADMIN_EMAIL and
// ADMIN_PASSWORD. Idempotent: an existing account with that email is left
// alone.
func SeedAdmin(ctx context.Context, svc *accounts.Service, email, password string, modules []string, logger *slog.Logger) error {
	if email == "" || password == "" {
		logger.Debug("No admin credentials configured, skipping admin seed")
		return nil
	}

	_, err := svc.CreateUser(ctx, accounts.NewUser{
		Email:          email,
		Name:           "Administrator",
		Password:       password,
		Role:           models.RoleAdmin,
		AllowedModules: modules,
	})
	if errors.Is(err, accounts.ErrEmailTaken) {
		logger.Debug("Admin account already exists, skipping seed", "email", accounts.NormalizeEmail(email))
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("Seeded admin account", "email", accounts.NormalizeEmail(email))
	return nil
}
