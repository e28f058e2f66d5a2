package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func newTestEncryptor(t *testing.T) *TokenEncryptor {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	enc, err := NewTokenEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("NewTokenEncryptor: %v", err)
	}
	return enc
}

func TestEncryptDecrypt(t *testing.T) {
	enc := newTestEncryptor(t)

	ciphertext, err := enc.Encrypt("ya29.access-token")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ciphertext == "ya29.access-token" {
		t.Fatal("ciphertext equals plaintext")
	}

	plaintext, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plaintext != "ya29.access-token" {
		t.Errorf("expected round trip, got %q", plaintext)
	}
}

func TestEncryptEmpty(t *testing.T) {
	enc := newTestEncryptor(t)
	out, err := enc.Encrypt("")
	if err != nil || out != "" {
		t.Fatalf("expected empty ciphertext, got %q, %v", out, err)
	}
}

func TestNewTokenEncryptorRejectsShortKey(t *testing.T) {
	_, err := NewTokenEncryptor(base64.StdEncoding.EncodeToString([]byte("short")))
	if err == nil || !strings.Contains(err.Error(), "32 bytes") {
		t.Fatalf("expected key length error, got %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if err := CheckPassword(hash, "secret"); err != nil {
		t.Fatalf("expected password to match")
	}
	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected password mismatch")
	}
	if _, err := HashPassword("abc"); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
}

func TestTemporaryPassword(t *testing.T) {
	pwd, err := TemporaryPassword(12)
	if err != nil {
		t.Fatalf("TemporaryPassword: %v", err)
	}
	if len(pwd) != 12 {
		t.Fatalf("expected 12 chars, got %d", len(pwd))
	}
	for _, r := range pwd {
		if !strings.ContainsRune(tempPasswordAlphabet, r) {
			t.Fatalf("unexpected rune %q", r)
		}
	}
}

func TestOpaqueToken(t *testing.T) {
	token, digest, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("NewOpaqueToken: %v", err)
	}
	if HashToken(token) != digest {
		t.Fatal("digest mismatch")
	}
	if token == digest {
		t.Fatal("token must not equal its digest")
	}
}
