package jwtx

import (
	"fmt"
	"strings"
)

// Supported signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgEdDSA = "EdDSA"
)

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
}

// NewSignerHS256 creates an HMAC-SHA256 signer from a shared secret.
func NewSignerHS256(kid string, secret []byte) (Signer, error) {
	return newHS256Signer(kid, secret)
}

// NewSignerEdDSA creates an EdDSA signer from PEM bytes.
// Ed25519 keys must be in PKCS8 format.
func NewSignerEdDSA(kid string, pemKey []byte) (Signer, error) {
	return newEdDSASigner(kid, pemKey)
}

// ParseAlg normalises an algorithm name from configuration.
func ParseAlg(s string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "HS256":
		return AlgHS256, nil
	case "EDDSA", "ED25519":
		return AlgEdDSA, nil
	default:
		return "", fmt.Errorf("jwtx: unsupported algorithm %q", s)
	}
}
