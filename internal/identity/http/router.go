package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/obs"
	"github.com/anamul94/DietGuard/internal/identity/service"
	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/anamul94/DietGuard/pkg/httpx"
	"github.com/anamul94/DietGuard/pkg/jwtx"
	"github.com/anamul94/DietGuard/pkg/slogx"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store
	metrics      *obs.Metrics

	AccountService       *service.AccountService
	TokenService         *service.TokenService
	SubscriptionService  *service.SubscriptionService
	QuotaService         *service.QuotaService
	PasswordResetService *service.PasswordResetService
	AuditLogService      *service.AuditLogService

	// Audit receives token_rejected and authorization_denied entries.
	Audit service.AuditRecorder
	// AuditHealth is reported by /readyz. Optional.
	AuditHealth DegradedReporter

	// TrustedProxies decides which peers may set X-Forwarded-For. The
	// resolved client IP keys the IP limiters and lands in audit entries.
	TrustedProxies httpx.TrustedProxies

	SigninLimit httpx.RateLimitConfig
	// APILimit applies to every route. Zero RequestsPerWindow disables it.
	APILimit httpx.RateLimitConfig
	// UploadLimit caps upload attempts per account on top of the daily
	// quota, so replays cannot hammer the counter store. Zero disables it.
	UploadLimit httpx.RateLimitConfig
}

func NewRouter(
	verifier jwtx.Verifier,
	buildVersion string,
	st store.Store,
	metrics *obs.Metrics,
	logger *slog.Logger,
) *Router {
	return &Router{
		Mux:          http.NewServeMux(),
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		metrics:      metrics,
		logger:       logger,
		SigninLimit:  httpx.SigninLimit,
	}
}

// ApplyRoutes registers every route and builds the global chain. Call it
// once, after the services are set.
func (r *Router) ApplyRoutes() {
	r.middlewares = []httpx.Middleware{
		r.TrustedProxies.Middleware,
		slogx.HTTPMiddleware(r.logger),
		r.metrics.Instrument,
	}
	if r.APILimit.RequestsPerWindow > 0 {
		r.middlewares = append(r.middlewares, httpx.RateLimitByIP(r.APILimit))
	}

	r.registerAuth()
	r.registerMe()
	r.registerAdmin()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title						DietGuard Identity API
//	@version					0.1.0
//	@description				Accounts, tokens, subscription plans and the daily upload quota.
//	@BasePath					/
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) authn() httpx.Middleware {
	return httpx.AuthnMiddleware(r.verifier, r.onTokenRejected)
}

func (r *Router) onTokenRejected(req *http.Request, reason string, _ error) {
	if r.Audit == nil {
		return
	}
	meta := auditMeta(req)
	meta.Reason = reason
	r.Audit.Record(req.Context(), domain.AuditTokenRejected, "", domain.OutcomeFailure, meta)
}

func (r *Router) onAuthorizationDenied(req *http.Request, reason string, _ error) {
	if r.Audit == nil {
		return
	}
	meta := auditMeta(req)
	meta.Reason = reason
	meta.Extra = map[string]string{"route": req.Method + " " + req.URL.Path}
	r.Audit.Record(req.Context(), domain.AuditAuthorizationDenied, httpx.AccountID(req.Context()), domain.OutcomeDenied, meta)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		AccountService:       r.AccountService,
		TokenService:         r.TokenService,
		PasswordResetService: r.PasswordResetService,
	}

	r.Mux.HandleFunc("POST /v1/auth/signup", h.HandleSignup)

	// Credential guessing is throttled per client IP.
	r.Mux.Handle("POST /v1/auth/signin",
		httpx.Chain(http.HandlerFunc(h.HandleSignin),
			httpx.RateLimitByIP(r.SigninLimit),
		),
	)

	r.Mux.HandleFunc("POST /v1/auth/refresh", h.HandleRefresh)
	r.Mux.HandleFunc("POST /v1/auth/logout", h.HandleLogout)

	// Shares the signin budget shape so reset mail cannot be used to spam.
	r.Mux.Handle("POST /v1/auth/password/forgot",
		httpx.Chain(http.HandlerFunc(h.HandleForgotPassword),
			httpx.RateLimitByIP(r.SigninLimit),
		),
	)
	r.Mux.HandleFunc("POST /v1/auth/password/reset", h.HandleResetPassword)
}

func (r *Router) registerMe() {
	h := &MeHandler{
		AccountService: r.AccountService,
		QuotaService:   r.QuotaService,
	}

	r.Mux.Handle("GET /v1/me", httpx.Chain(http.HandlerFunc(h.HandleGet), r.authn()))
	r.Mux.Handle("PUT /v1/me", httpx.Chain(http.HandlerFunc(h.HandleUpdate), r.authn()))
	r.Mux.Handle("DELETE /v1/me", httpx.Chain(http.HandlerFunc(h.HandleDelete), r.authn()))
	r.Mux.Handle("GET /v1/me/usage", httpx.Chain(http.HandlerFunc(h.HandleUsage), r.authn()))
	upload := []httpx.Middleware{r.authn()}
	if r.UploadLimit.RequestsPerWindow > 0 {
		upload = append(upload, httpx.RateLimitByAccount(r.UploadLimit))
	}
	r.Mux.Handle("POST /v1/me/uploads", httpx.Chain(http.HandlerFunc(h.HandleUpload), upload...))
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{
		AccountService:      r.AccountService,
		SubscriptionService: r.SubscriptionService,
		AuditLogService:     r.AuditLogService,
	}
	admin := func(fn http.HandlerFunc) http.Handler {
		return httpx.Chain(fn,
			r.authn(),
			httpx.RequireRole(r.onAuthorizationDenied, string(domain.RoleAdmin)),
		)
	}

	r.Mux.Handle("GET /v1/admin/accounts", admin(h.HandleListAccounts))
	r.Mux.Handle("POST /v1/admin/accounts/{id}/upgrade", admin(h.HandleUpgrade))
	r.Mux.Handle("PUT /v1/admin/accounts/{id}/role", admin(h.HandleSetRole))
	r.Mux.Handle("GET /v1/admin/audit-logs", admin(h.HandleListAuditLogs))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.AuditHealth))
	r.Mux.Handle("GET /metrics", r.metrics.Handler())
	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}
