package app

import (
	"fmt"
	"log/slog"

	"github.com/anamul94/DietGuard/pkg/cryptox"
	"github.com/anamul94/DietGuard/pkg/jwtx"
)

// signingKID names the single active key. Rotation is not supported, so
// one fixed kid is enough.
const signingKID = "identity-1"

// InitSigningKeys builds the access token signer and its verifier.
//
// Supported algorithms:
//   - HS256: shared secret from JWT_SECRET.
//   - EdDSA: Ed25519 PKCS8 key read from JWT_KEY_PATH, generated on first
//     start when the file does not exist.
func InitSigningKeys(cfg Config, logger *slog.Logger) (jwtx.Signer, jwtx.Verifier, error) {
	alg, err := jwtx.ParseAlg(cfg.JWTAlg)
	if err != nil {
		return nil, nil, err
	}

	var signer jwtx.Signer
	switch alg {
	case jwtx.AlgEdDSA:
		pemKey, err := cryptox.LoadOrGenerateEd25519Key(cfg.JWTKeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load signing key: %w", err)
		}
		signer, err = jwtx.NewSignerEdDSA(signingKID, pemKey)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("signing key loaded", "algorithm", alg, "path", cfg.JWTKeyPath)

	default:
		signer, err = jwtx.NewSignerHS256(signingKID, []byte(cfg.JWTSecret))
		if err != nil {
			return nil, nil, err
		}
		logger.Info("signing key loaded", "algorithm", alg)
	}

	verifier, err := jwtx.VerifierFor(signer, jwtx.VerifyOptions{Issuer: cfg.Issuer})
	if err != nil {
		return nil, nil, err
	}
	return signer, verifier, nil
}
