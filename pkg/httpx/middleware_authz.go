package httpx

import (
	"net/http"
	"slices"
)

// RequireRole lets the request through only when the authenticated role is
// one of roles. Must run after AuthnMiddleware.
func RequireRole(onReject RejectFunc, roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(roles, Role(r.Context())) {
				next.ServeHTTP(w, r)
				return
			}
			if onReject != nil {
				onReject(r, "insufficient role", nil)
			}
			WriteError(w, http.StatusForbidden, "forbidden", "insufficient role")
		})
	}
}
