package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anamul94/DietGuard/pkg/httpx"
	"github.com/anamul94/DietGuard/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(okHandler(), mw("a"), mw("b"), mw("c"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestAuthnMiddleware(t *testing.T) {
	signer, err := jwtx.NewSignerHS256("k1", secret)
	require.NoError(t, err)
	verifier := jwtx.NewVerifierHS256(secret, jwtx.VerifyOptions{})

	var rejected []string
	h := httpx.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "acc-1", httpx.AccountID(r.Context()))
		require.Equal(t, "user", httpx.Role(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}), httpx.AuthnMiddleware(verifier, func(_ *http.Request, reason string, _ error) {
		rejected = append(rejected, reason)
	}))

	valid, err := signer.Sign(jwtx.NewAccessClaims("acc-1", "user", "", time.Minute, time.Now()))
	require.NoError(t, err)
	expired, err := signer.Sign(jwtx.NewAccessClaims("acc-1", "user", "", time.Minute, time.Now().Add(-time.Hour)))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   int
		reason string
	}{
		{"valid", "Bearer " + valid, http.StatusNoContent, ""},
		{"lowercase scheme", "bearer " + valid, http.StatusNoContent, ""},
		{"missing", "", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "token expired"},
		{"garbage", "Bearer abc", http.StatusUnauthorized, "malformed token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rejected = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusUnauthorized {
				require.True(t, strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Bearer"))
			}
			if tt.reason != "" {
				require.Equal(t, []string{tt.reason}, rejected)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	denied := 0
	h := httpx.RequireRole(func(*http.Request, string, error) { denied++ }, "admin")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(httpx.ContextWithClaims(req.Context(), jwtx.Claims{Role: "user"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, 1, denied)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(httpx.ContextWithClaims(req.Context(), jwtx.Claims{Role: "admin"}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
