package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/crypto"
	"github.com/nexus-dashboard/nexus/internal/models"
)

// Errors
var (
	ErrInvalidCredentials = apperr.New(apperr.ErrUnauthorized, "invalid_credentials", "invalid email or password")
	ErrEmailTaken         = apperr.New(apperr.ErrConflict, "email_taken", "an account with this email already exists")
	ErrUserNotFound       = apperr.New(apperr.ErrNotFound, "user_not_found", "user not found")
	ErrRequestNotFound    = apperr.New(apperr.ErrNotFound, "request_not_found", "access request not found")
	ErrResetTokenInvalid  = apperr.New(apperr.ErrInvalidInput, "invalid_reset_token", "reset token is invalid or expired")
	ErrInvalidEmail       = apperr.New(apperr.ErrInvalidInput, "invalid_email", "email address is not valid")
	ErrInvalidRole        = apperr.New(apperr.ErrInvalidInput, "invalid_role", "role must be user or admin")
	ErrUnknownAccount     = apperr.New(apperr.ErrForbidden, "unknown_account", "no account exists for this identity")
)

const temporaryPasswordLength = 12

var validate = validator.New()

// NewUser describes an account to create. A nil AllowedModules gets the
// service's default allow-list.
type NewUser struct {
	Email          string
	Name           string
	Password       string
	Role           string
	AllowedModules []string
}

// UserUpdate holds the editable account fields; nil means unchanged.
type UserUpdate struct {
	Email          *string
	Name           *string
	Role           *string
	AllowedModules *[]string
}

// Service implements account operations on top of a Repository.
type Service struct {
	repo           Repository
	defaultModules []string
	resetTTL       time.Duration
	now            func() time.Time
}

// NewService creates a Service.
func NewService(repo Repository, defaultModules []string, resetTTL time.Duration) *Service {
	return &Service{
		repo:           repo,
		defaultModules: defaultModules,
		resetTTL:       resetTTL,
		now:            time.Now,
	}
}

// DefaultModules returns the allow-list given to new accounts.
func (s *Service) DefaultModules() []string {
	return append([]string(nil), s.defaultModules...)
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkEmail(email string) error {
	if err := validate.Var(email, "required,email"); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

func checkRole(role string) error {
	if role != models.RoleUser && role != models.RoleAdmin {
		return ErrInvalidRole
	}
	return nil
}

func weakPassword(err error) error {
	return apperr.New(apperr.ErrInvalidInput, "weak_password", err.Error())
}

// CreateUser creates an account with a bcrypt-hashed password.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*models.User, error) {
	email := NormalizeEmail(in.Email)
	if err := checkEmail(email); err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = models.RoleUser
	}
	if err := checkRole(role); err != nil {
		return nil, err
	}
	hash, err := crypto.HashPassword(in.Password)
	if err != nil {
		return nil, weakPassword(err)
	}

	modules := in.AllowedModules
	if modules == nil {
		modules = s.DefaultModules()
	}
	user := &models.User{
		UID:            uuid.NewString(),
		Email:          email,
		Name:           in.Name,
		PasswordHash:   hash,
		Role:           role,
		AllowedModules: modules,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate verifies email and password. Unknown emails and wrong
// passwords yield the same error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.repo.UserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.PasswordHash == "" || crypto.CheckPassword(user.PasswordHash, password) != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	user.LastLoginAt = &now
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) UserByID(ctx context.Context, id uint) (*models.User, error) {
	return s.repo.UserByID(ctx, id)
}

func (s *Service) UserByUID(ctx context.Context, uid string) (*models.User, error) {
	return s.repo.UserByUID(ctx, uid)
}

func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.repo.ListUsers(ctx)
}

// UpdateUser applies the non-nil fields of upd.
func (s *Service) UpdateUser(ctx context.Context, id uint, upd UserUpdate) (*models.User, error) {
	user, err := s.repo.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Email != nil {
		email := NormalizeEmail(*upd.Email)
		if err := checkEmail(email); err != nil {
			return nil, err
		}
		user.Email = email
	}
	if upd.Name != nil {
		user.Name = *upd.Name
	}
	if upd.Role != nil {
		if err := checkRole(*upd.Role); err != nil {
			return nil, err
		}
		user.Role = *upd.Role
	}
	if upd.AllowedModules != nil {
		user.AllowedModules = append([]string{}, (*upd.AllowedModules)...)
	}
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser removes the account and returns it as it was.
func (s *Service) DeleteUser(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.repo.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return nil, err
	}
	return user, nil
}

// RequestAccess files a pending self-service access request.
func (s *Service) RequestAccess(ctx context.Context, email, reason string) (*models.AccessRequest, error) {
	email = NormalizeEmail(email)
	if err := checkEmail(email); err != nil {
		return nil, err
	}
	req := &models.AccessRequest{
		Email:  email,
		Reason: strings.TrimSpace(reason),
		Status: models.AccessRequestPending,
	}
	if err := s.repo.CreateAccessRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Service) PendingRequests(ctx context.Context) ([]models.AccessRequest, error) {
	return s.repo.ListAccessRequests(ctx, models.AccessRequestPending)
}

// ApproveRequest creates the account for a pending request and deletes the
// request. An empty password is replaced by a generated temporary one; the
// plaintext is returned once so it can be handed to the user.
func (s *Service) ApproveRequest(ctx context.Context, id uint, password string) (*models.User, string, error) {
	req, err := s.repo.AccessRequestByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if password == "" {
		if password, err = crypto.TemporaryPassword(temporaryPasswordLength); err != nil {
			return nil, "", err
		}
	}

	user, err := s.CreateUser(ctx, NewUser{Email: req.Email, Password: password})
	if err != nil {
		return nil, "", err
	}
	if err := s.repo.DeleteAccessRequest(ctx, id); err != nil {
		return nil, "", fmt.Errorf("account created but request not removed: %w", err)
	}
	return user, password, nil
}

// RejectRequest discards a request.
func (s *Service) RejectRequest(ctx context.Context, id uint) error {
	return s.repo.DeleteAccessRequest(ctx, id)
}

// IssuePasswordReset stores a single-use reset token for the account and
// returns its plaintext.
func (s *Service) IssuePasswordReset(ctx context.Context, email string) (*models.User, string, error) {
	user, err := s.repo.UserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, "", err
	}
	token, digest, err := crypto.NewOpaqueToken()
	if err != nil {
		return nil, "", err
	}
	reset := &models.PasswordReset{
		UserID:    user.ID,
		TokenHash: digest,
		ExpiresAt: s.now().Add(s.resetTTL),
	}
	if err := s.repo.CreatePasswordReset(ctx, reset); err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// ResetPassword redeems a reset token.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	reset, err := s.repo.PasswordResetByHash(ctx, crypto.HashToken(token))
	if err != nil {
		return err
	}
	now := s.now()
	if !reset.Usable(now) {
		return ErrResetTokenInvalid
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return weakPassword(err)
	}

	user, err := s.repo.UserByID(ctx, reset.UserID)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return err
	}
	return s.repo.MarkPasswordResetUsed(ctx, reset.ID, now)
}

// PurgeExpiredResets deletes used and expired reset tokens.
func (s *Service) PurgeExpiredResets(ctx context.Context) (int64, error) {
	return s.repo.PurgePasswordResets(ctx, s.now())
}

// LinkIdentity attaches an OAuth identity to the existing account with the
// same email. Accounts are never created from a sign-in.
func (s *Service) LinkIdentity(ctx context.Context, email string, identity models.AuthIdentity) (*models.User, error) {
	user, err := s.repo.UserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUnknownAccount
	}
	if err != nil {
		return nil, err
	}

	identity.UserID = user.ID
	if err := s.repo.UpsertIdentity(ctx, &identity); err != nil {
		return nil, err
	}

	now := s.now()
	user.LastLoginAt = &now
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
