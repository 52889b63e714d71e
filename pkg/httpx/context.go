package httpx

import (
	"context"

	"github.com/anamul94/DietGuard/pkg/jwtx"
)

type ctxKey string

const (
	CtxKeyAccountID ctxKey = "account_id"
	CtxKeyRole      ctxKey = "role"
	CtxKeyClaims    ctxKey = "claims"
)

// ContextWithClaims stores verified access-token claims on ctx.
func ContextWithClaims(ctx context.Context, c jwtx.Claims) context.Context {
	ctx = context.WithValue(ctx, CtxKeyAccountID, c.Subject)
	ctx = context.WithValue(ctx, CtxKeyRole, c.Role)
	return context.WithValue(ctx, CtxKeyClaims, c)
}

// AccountID returns the authenticated account id, or "".
func AccountID(ctx context.Context) string {
	v, _ := ctx.Value(CtxKeyAccountID).(string)
	return v
}

// Role returns the authenticated role, or "".
func Role(ctx context.Context) string {
	v, _ := ctx.Value(CtxKeyRole).(string)
	return v
}

// ClaimsFromContext returns the verified claims if the request was authenticated.
func ClaimsFromContext(ctx context.Context) (jwtx.Claims, bool) {
	c, ok := ctx.Value(CtxKeyClaims).(jwtx.Claims)
	return c, ok
}
