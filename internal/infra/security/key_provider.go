package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
)

// MinSigningKeyLength is the minimum HS256 key size in bytes.
const MinSigningKeyLength = 32

// ErrWeakSigningKey indicates the configured secret is too short for HS256.
var ErrWeakSigningKey = fmt.Errorf("signing key must be at least %d bytes", MinSigningKeyLength)

// ErrSigningKeyMissing indicates no signing secret was supplied.
var ErrSigningKeyMissing = errors.New("signing key not configured")

// KeyProvider supplies the symmetric key used to sign and verify access tokens.
type KeyProvider interface {
	SigningKey() ([]byte, error)
}

// StaticKeyProvider holds a single process-wide HMAC secret.
type StaticKeyProvider struct {
	key []byte
}

// NewStaticKeyProvider validates the secret and wraps it in a provider.
func NewStaticKeyProvider(secret string) (*StaticKeyProvider, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSigningKeyMissing
	}
	if len(secret) < MinSigningKeyLength {
		return nil, ErrWeakSigningKey
	}

	key := make([]byte, len(secret))
	copy(key, secret)
	return &StaticKeyProvider{key: key}, nil
}

// SigningKey returns the HS256 key.
func (p *StaticKeyProvider) SigningKey() ([]byte, error) {
	if p == nil || len(p.key) == 0 {
		return nil, ErrSigningKeyMissing
	}
	return p.key, nil
}

// DeriveKey derives a purpose-bound sub key from the signing secret so one
// configured secret can serve several MAC uses without key reuse.
func (p *StaticKeyProvider) DeriveKey(purpose string) ([]byte, error) {
	key, err := p.SigningKey()
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("dota-admin-backend/" + purpose))
	return mac.Sum(nil), nil
}
