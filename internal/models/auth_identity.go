package models

import (
	"time"

	"github.com/nexus-dashboard/nexus/internal/crypto"
	"gorm.io/gorm"
)

var encryptor *crypto.TokenEncryptor

// InitEncryption installs the encryptor used by AuthIdentity hooks.
// Without it tokens are stored as given (tests, local development).
func InitEncryption(encryptionKey string) error {
	enc, err := crypto.NewTokenEncryptor(encryptionKey)
	if err != nil {
		return err
	}
	encryptor = enc
	return nil
}

// AuthIdentity links an external OAuth identity (e.g. Google) to an account.
type AuthIdentity struct {
	gorm.Model
	UserID         uint   `gorm:"not null;index"`
	Provider       string `gorm:"not null"`
	ProviderUserID string `gorm:"not null;uniqueIndex:idx_auth_identities_provider_user,where:deleted_at IS NULL"`
	AccessToken    string `gorm:"type:text"` // encrypted at rest
	RefreshToken   string `gorm:"type:text"` // encrypted at rest
	TokenExpiry    *time.Time
}

// BeforeSave encrypts tokens. GCM uses a random nonce so every save re-seals.
func (a *AuthIdentity) BeforeSave(tx *gorm.DB) error {
	return a.transformTokens(encryptor.Encrypt)
}

// AfterFind decrypts tokens loaded from the database.
func (a *AuthIdentity) AfterFind(tx *gorm.DB) error {
	return a.transformTokens(encryptor.Decrypt)
}

func (a *AuthIdentity) transformTokens(fn func(string) (string, error)) error {
	if encryptor == nil {
		return nil
	}
	for _, field := range []*string{&a.AccessToken, &a.RefreshToken} {
		out, err := fn(*field)
		if err != nil {
			return err
		}
		*field = out
	}
	return nil
}
