package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken indicates the token signature or structure is invalid.
	ErrMalformedToken = errors.New("jwt: malformed token")
	// ErrTokenExpired indicates a correctly signed token whose expiry has passed.
	ErrTokenExpired = errors.New("jwt: token expired")
)

const defaultAccessTokenTTL = 5 * time.Minute

// accessClaims is the wire form of an access token.
type accessClaims struct {
	Role        string   `json:"role"`
	Authorities []string `json:"authorities"`
	jwt.RegisteredClaims
}

// TokenDetails is the decoded content of an access token.
type TokenDetails struct {
	Email       string
	Role        string
	Authorities []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// TokenCodec issues and verifies HS256 access tokens carrying the subject
// email, the role name and the authority list.
type TokenCodec struct {
	keys KeyProvider
	ttl  time.Duration
	now  func() time.Time
}

// NewTokenCodec constructs a codec signing with keys and issuing tokens valid for ttl.
func NewTokenCodec(keys KeyProvider, ttl time.Duration) (*TokenCodec, error) {
	if keys == nil {
		return nil, ErrSigningKeyMissing
	}
	if _, err := keys.SigningKey(); err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultAccessTokenTTL
	}
	return &TokenCodec{keys: keys, ttl: ttl, now: time.Now}, nil
}

// WithClock overrides the time source, primarily for tests.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	if now != nil {
		c.now = now
	}
	return c
}

// TTL returns the lifetime of issued tokens.
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a new access token for the supplied identity.
func (c *TokenCodec) Issue(email, role string, authorities []string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("jwt: subject email is required")
	}

	key, err := c.keys.SigningKey()
	if err != nil {
		return "", fmt.Errorf("jwt: get signing key: %w", err)
	}

	now := c.now().UTC()
	claims := &accessClaims{
		Role:        strings.TrimSpace(role),
		Authorities: normalizeAuthorities(authorities),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, nil
}

// Decode verifies signature and structure and returns the claims regardless of expiry.
func (c *TokenCodec) Decode(token string) (*TokenDetails, error) {
	claims, err := c.parse(token, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims.details()
}

// Inspect is the single-pass check used on the request path. It returns
// ErrTokenExpired only for tokens whose signature verifies, and
// ErrMalformedToken for everything else that fails.
func (c *TokenCodec) Inspect(token string) (*TokenDetails, error) {
	claims, err := c.parse(token, jwt.WithTimeFunc(c.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && claims != nil {
			if _, structErr := claims.details(); structErr != nil {
				return nil, structErr
			}
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims.details()
}

// IsExpired reports whether the token expiry has passed. Any token that
// cannot be decoded counts as expired.
func (c *TokenCodec) IsExpired(token string) bool {
	details, err := c.Decode(token)
	if err != nil {
		return true
	}
	return !c.now().Before(details.ExpiresAt)
}

// Validate reports whether the token signature and structure are valid. Expiry is not checked.
func (c *TokenCodec) Validate(token string) bool {
	_, err := c.Decode(token)
	return err == nil
}

func (c *TokenCodec) parse(token string, opts ...jwt.ParserOption) (*accessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformedToken
	}

	options := append([]jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}, opts...)

	claims := &accessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return c.keys.SigningKey()
	}, options...)
	if err != nil {
		return claims, err
	}
	if parsed == nil || !parsed.Valid {
		return nil, ErrMalformedToken
	}

	return claims, nil
}

func (c *accessClaims) details() (*TokenDetails, error) {
	if strings.TrimSpace(c.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrMalformedToken)
	}
	if c.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: expiry missing", ErrMalformedToken)
	}

	details := &TokenDetails{
		Email:       c.Subject,
		Role:        c.Role,
		Authorities: normalizeAuthorities(c.Authorities),
		ExpiresAt:   c.ExpiresAt.Time,
	}
	if c.IssuedAt != nil {
		details.IssuedAt = c.IssuedAt.Time
	}
	return details, nil
}

// normalizeAuthorities trims, drops blanks and duplicates, and never returns nil
// so the claim is always present in the encoded token.
func normalizeAuthorities(input []string) []string {
	result := make([]string, 0, len(input))
	seen := make(map[string]struct{}, len(input))
	for _, authority := range input {
		authority = strings.TrimSpace(authority)
		if authority == "" {
			continue
		}
		if _, exists := seen[authority]; exists {
			continue
		}
		seen[authority] = struct{}{}
		result = append(result, authority)
	}
	return result
}
