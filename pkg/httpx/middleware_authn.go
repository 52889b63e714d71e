package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/anamul94/DietGuard/pkg/jwtx"
	"github.com/anamul94/DietGuard/pkg/slogx"
)

// RejectFunc observes rejected requests, e.g. to audit them.
type RejectFunc func(r *http.Request, reason string, err error)

// AuthnMiddleware requires a valid bearer access token. Verification is
// local, the store is never consulted.
func AuthnMiddleware(v jwtx.Verifier, onReject RejectFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw, ok := BearerToken(r)
			if !ok {
				writeBearerError(w, "missing bearer token")
				return
			}

			claims, err := v.Verify(raw)
			if err != nil {
				reason := tokenFailureReason(err)
				slogx.FromContext(ctx).Warn("jwt verify failed", "reason", reason, slogx.Err(err))
				if onReject != nil {
					onReject(r, reason, err)
				}
				writeBearerError(w, reason)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(ctx, claims)))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, jwtx.ErrExpired):
		return "token expired"
	case errors.Is(err, jwtx.ErrInvalidSig):
		return "invalid signature"
	case errors.Is(err, jwtx.ErrNotYetValid):
		return "token not yet valid"
	case errors.Is(err, jwtx.ErrIssuer):
		return "issuer mismatch"
	default:
		return "malformed token"
	}
}

// RFC 6750 error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteError(w, http.StatusUnauthorized, "invalid_token", desc)
}
