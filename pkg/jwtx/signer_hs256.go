package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// MinHS256SecretLen is the shortest shared secret we accept.
const MinHS256SecretLen = 32

// HS256Signer signs tokens with a shared secret. Every instance holding
// the same secret can verify what any other instance signed.
type HS256Signer struct {
	kid    string
	secret []byte
}

func newHS256Signer(kid string, secret []byte) (*HS256Signer, error) {
	if len(secret) < MinHS256SecretLen {
		return nil, errors.New("jwtx: HS256 secret must be at least 32 bytes")
	}
	return &HS256Signer{kid: kid, secret: append([]byte(nil), secret...)}, nil
}

func (s *HS256Signer) Alg() string { return AlgHS256 }
func (s *HS256Signer) KID() string { return s.kid }

// Sign takes your claims and turns them into a signed JWT string.
func (s *HS256Signer) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if s.kid != "" {
		t.Header["kid"] = s.kid
	}
	return t.SignedString(s.secret)
}

// Verifier returns a verifier bound to the same secret.
func (s *HS256Signer) Verifier(opts VerifyOptions) Verifier {
	return NewVerifierHS256(s.secret, opts)
}
