package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// RefreshSecretBytes is the entropy of an issued refresh secret.
const RefreshSecretBytes = 48

// GenerateSecureToken returns a base64 URL-safe random string using the specified number of random bytes.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SecretHasher fingerprints refresh secrets with a keyed HMAC-SHA256 so a
// leaked table cannot be replayed or brute forced offline without the key.
type SecretHasher struct {
	key []byte
}

// NewSecretHasher returns a hasher keyed with key.
func NewSecretHasher(key []byte) (*SecretHasher, error) {
	if len(key) < MinSigningKeyLength {
		return nil, errors.New("secret hasher: key must be at least 32 bytes")
	}
	copied := make([]byte, len(key))
	copy(copied, key)
	return &SecretHasher{key: copied}, nil
}

// Hash returns the lowercase hex HMAC of secret.
func (h *SecretHasher) Hash(secret string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches reports whether secret hashes to stored, in constant time.
func (h *SecretHasher) Matches(secret, stored string) bool {
	expected, err := hex.DecodeString(stored)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(secret))
	return hmac.Equal(mac.Sum(nil), expected)
}
