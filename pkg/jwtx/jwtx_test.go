package jwtx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/anamul94/DietGuard/pkg/cryptox"
	"github.com/anamul94/DietGuard/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const exampleIssuer = "https://identity.test"

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestHS256SignAndVerify(t *testing.T) {
	signer, err := jwtx.NewSignerHS256("hs-1", testSecret)
	require.NoError(t, err)
	require.Equal(t, "HS256", signer.Alg())

	now := time.Now().UTC()
	token, err := signer.Sign(jwtx.NewAccessClaims("acc-123", "admin", exampleIssuer, jwtx.DefaultAccessTokenTTL, now))
	require.NoError(t, err)

	v, err := jwtx.VerifierFor(signer, jwtx.VerifyOptions{Issuer: exampleIssuer})
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "acc-123", claims.Subject)
	require.Equal(t, "admin", claims.Role)
	require.WithinDuration(t, now.Add(15*time.Minute), claims.Expiry(), time.Second)
}

func TestHS256ShortSecret(t *testing.T) {
	_, err := jwtx.NewSignerHS256("hs-1", []byte("short"))
	require.Error(t, err)
}

func TestVerifyFailures(t *testing.T) {
	signer, err := jwtx.NewSignerHS256("hs-1", testSecret)
	require.NoError(t, err)
	verifier := jwtx.NewVerifierHS256(testSecret, jwtx.VerifyOptions{Issuer: exampleIssuer})

	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	valid, err := signer.Sign(jwtx.NewAccessClaims("acc-1", "user", exampleIssuer, 15*time.Minute, t0))
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		late := jwtx.NewVerifierHS256(testSecret, jwtx.VerifyOptions{
			Issuer: exampleIssuer,
			Now:    func() time.Time { return t0.Add(16 * time.Minute) },
		})
		_, err := late.Verify(valid)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("still valid just before expiry", func(t *testing.T) {
		early := jwtx.NewVerifierHS256(testSecret, jwtx.VerifyOptions{
			Issuer: exampleIssuer,
			Now:    func() time.Time { return t0.Add(14 * time.Minute) },
		})
		_, err := early.Verify(valid)
		require.NoError(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := verifier.Verify("not-a-jwt")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("tampered signature", func(t *testing.T) {
		parts := strings.Split(valid, ".")
		require.Len(t, parts, 3)
		sig := []byte(parts[2])
		if sig[0] == 'A' {
			sig[0] = 'B'
		} else {
			sig[0] = 'A'
		}
		_, err := verifier.Verify(parts[0] + "." + parts[1] + "." + string(sig))
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := jwtx.NewVerifierHS256([]byte("ffffffffffffffffffffffffffffffff"), jwtx.VerifyOptions{})
		_, err := other.Verify(valid)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		tok, err := signer.Sign(jwtx.NewAccessClaims("acc-1", "user", "https://elsewhere", time.Hour, time.Now()))
		require.NoError(t, err)
		_, err = verifier.Verify(tok)
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})
}

func TestEdDSASignAndVerify(t *testing.T) {
	pemKey, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)

	signer, err := jwtx.NewSignerEdDSA("ed-1", pemKey)
	require.NoError(t, err)
	require.Equal(t, "EdDSA", signer.Alg())
	require.Equal(t, "ed-1", signer.KID())

	token, err := signer.Sign(jwtx.NewAccessClaims("acc-9", "user", exampleIssuer, time.Minute, time.Now()))
	require.NoError(t, err)

	v, err := jwtx.VerifierFor(signer, jwtx.VerifyOptions{Issuer: exampleIssuer})
	require.NoError(t, err)
	claims, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "acc-9", claims.Subject)

	t.Run("algorithm mismatch is a signature failure", func(t *testing.T) {
		_, err := jwtx.NewVerifierHS256(testSecret, jwtx.VerifyOptions{}).Verify(token)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})
}

func TestParseAlg(t *testing.T) {
	for in, want := range map[string]string{"": "HS256", "hs256": "HS256", "EdDSA": "EdDSA", "ed25519": "EdDSA"} {
		got, err := jwtx.ParseAlg(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := jwtx.ParseAlg("RS256")
	require.Error(t, err)
}
