package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes for the identity service.
const (
	// DefaultAccessTokenTTL is the lifetime of a signed access token.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the lifetime of a server-side refresh token.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Claims are the access-token claims. The subject is the account ID and
// the role drives authorization checks without a store lookup.
type Claims struct {
	jwt.RegisteredClaims

	// Role of the account at issuance ("user" or "admin").
	Role string `json:"role"`
}

// NewAccessClaims builds the claims for a freshly issued access token.
func NewAccessClaims(subject, role, issuer string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Role: role,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// Expiry returns the expiry time or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
