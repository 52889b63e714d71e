package domain

import "time"

// TokenState is the lifecycle state of a refresh token.
type TokenState string

const (
	TokenActive  TokenState = "active"
	TokenRotated TokenState = "rotated" // replaced by a child; presenting it again is reuse
	TokenRevoked TokenState = "revoked"
)

// TokenPair is what signup, signin and refresh hand back.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// RefreshToken models the stored refresh token record. Rotations form a
// chain through ParentID.
type RefreshToken struct {
	ID        string
	AccountID string
	TokenHash string // base64url SHA-256 of the opaque token
	ParentID  string // empty for the first token of a chain
	State     TokenState
	CreatedAt time.Time
	ExpiresAt time.Time
	RotatedAt *time.Time
	RevokedAt *time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t RefreshToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

// PasswordResetToken is single-use: once consumed it is dead regardless of
// expiry.
type PasswordResetToken struct {
	ID         string
	AccountID  string
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// Consumed reports whether the token was already redeemed.
func (t PasswordResetToken) Consumed() bool { return t.ConsumedAt != nil }

// Expired reports whether the token is past its expiry at now.
func (t PasswordResetToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }
