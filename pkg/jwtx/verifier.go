package jwtx

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a JWT and gives you back the claims if it's legit.
// Verification is purely local: no store or network access.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// VerifyOptions captures common expectations used by verifiers.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Leeway allows small clock skew when validating exp/nbf/iat.
	Leeway time.Duration

	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")

	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
)

type verifier struct {
	method jwt.SigningMethod
	key    any
	opts   VerifyOptions
}

// NewVerifierHS256 verifies tokens signed with the given shared secret.
func NewVerifierHS256(secret []byte, opts VerifyOptions) Verifier {
	return &verifier{method: jwt.SigningMethodHS256, key: append([]byte(nil), secret...), opts: opts}
}

// NewVerifierEdDSA verifies tokens signed by the given Ed25519 key.
func NewVerifierEdDSA(pub ed25519.PublicKey, opts VerifyOptions) Verifier {
	return &verifier{method: jwt.SigningMethodEdDSA, key: pub, opts: opts}
}

// VerifierFor returns the verifier matching a signer built by this package.
func VerifierFor(s Signer, opts VerifyOptions) (Verifier, error) {
	switch sig := s.(type) {
	case *HS256Signer:
		return sig.Verifier(opts), nil
	case *EdDSASigner:
		return sig.Verifier(opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAlgMismatch, s.Alg())
	}
}

// Verify parses the token, checks the signature and then the time based
// and issuer claims. Errors always wrap one of the package sentinels.
func (v *verifier) Verify(tokenStr string) (Claims, error) {
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.opts.Leeway),
	}
	if v.opts.Now != nil {
		popts = append(popts, jwt.WithTimeFunc(v.opts.Now))
	}
	if v.opts.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(v.opts.Issuer))
	}

	var claims Claims
	token, err := jwt.NewParser(popts...).ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return Claims{}, classify(err)
	}
	if !token.Valid {
		return Claims{}, ErrMalformed
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrMalformed)
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSig, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %v", ErrNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrIssuer, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
