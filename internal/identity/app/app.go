package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/audit"
	httpapi "github.com/anamul94/DietGuard/internal/identity/http"
	"github.com/anamul94/DietGuard/internal/identity/messaging"
	"github.com/anamul94/DietGuard/internal/identity/obs"
	"github.com/anamul94/DietGuard/internal/identity/service"
	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/anamul94/DietGuard/internal/identity/store/drivers/postgres"
	"github.com/anamul94/DietGuard/internal/identity/store/drivers/redis"
	"github.com/anamul94/DietGuard/internal/identity/store/drivers/sqlite"
	"github.com/anamul94/DietGuard/pkg/cryptox"
	"github.com/anamul94/DietGuard/pkg/httpx"
	"github.com/anamul94/DietGuard/pkg/jwtx"
	"github.com/anamul94/DietGuard/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
)

// BuildVersion is overridden at build time via ldflags.
var BuildVersion = "v0.1.0"

const (
	amqpDialRetries = 5
	amqpDialDelay   = 2 * time.Second
)

// migratingStore is a relational driver that ships its own schema.
type migratingStore interface {
	store.Store
	ApplyMigrations() error
}

// Application encapsulates the identity service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db        store.Store
	counters  store.UploadCounters
	redis     *redis.Counter // nil unless QUOTA_BACKEND=redis
	publisher *messaging.Publisher
	signer    jwtx.Signer
	verifier  jwtx.Verifier
	metrics   *obs.Metrics
	audit     *audit.Writer

	// Services
	tokenService         *service.TokenService
	accountService       *service.AccountService
	subscriptionService  *service.SubscriptionService
	quotaService         *service.QuotaService
	passwordResetService *service.PasswordResetService
	housekeepingService  *service.HousekeepingService
	auditLogService      *service.AuditLogService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates an Application with every dependency initialized. Partially
// opened resources are released when an error is returned.
func New(ctx context.Context, cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "identity",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(cfg.PepperPath)
	if err := cryptox.LoadPepper(); err != nil {
		return nil, fmt.Errorf("failed to load pepper: %w", err)
	}

	signer, verifier, err := InitSigningKeys(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.signer, app.verifier = signer, verifier

	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := app.initQuotaBackend(ctx); err != nil {
		_ = app.closeResources()
		return nil, err
	}
	app.initMessaging()

	app.metrics = obs.NewMetrics(prometheus.NewRegistry())
	app.initAudit()
	app.initServices()
	if err := app.initHTTP(); err != nil {
		_ = app.audit.Close(ctx)
		_ = app.closeResources()
		return nil, err
	}

	if err := app.bootstrapAdmin(ctx); err != nil {
		_ = app.audit.Close(ctx)
		_ = app.closeResources()
		return nil, err
	}

	return app, nil
}

// Handler exposes the routed HTTP handler, mainly for tests.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("identity service starting", "addr", app.cfg.Addr, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown stops accepting requests, drains the audit queue and closes
// every backend.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down identity service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", slogx.Err(err))
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", slogx.Err(err))
		}
	}

	app.housekeepingService.Stop()

	// Entries still queued after the deadline are escalated by the writer.
	if err := app.audit.Close(ctx); err != nil {
		app.logger.Error("audit drain incomplete", slogx.Err(err))
	}

	if err := app.closeResources(); err != nil {
		return err
	}

	app.logger.Info("identity service stopped")
	return nil
}

// closeResources releases the broker, redis and database connections.
// Only the database error is returned; the others are logged.
func (app *Application) closeResources() error {
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			app.logger.Error("error closing amqp publisher", slogx.Err(err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis", slogx.Err(err))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database", slogx.Err(err))
			return err
		}
	}
	return nil
}

// initDatabase opens the configured relational driver and applies
// migrations when enabled.
func (app *Application) initDatabase(ctx context.Context) error {
	var db migratingStore
	switch app.cfg.DBDriver {
	case "postgres":
		pg, err := postgres.NewStore(ctx, app.cfg.DBDSN, postgres.PoolOptions{})
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		db = pg
	default:
		lite, err := sqlite.NewStore(app.cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		db = lite
	}
	app.db = db

	if !app.cfg.MigrateOnStart {
		app.logger.Info("database opened, migrations skipped", "driver", app.cfg.DBDriver)
		return nil
	}
	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		app.db = nil
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "driver", app.cfg.DBDriver)
	return nil
}

// initQuotaBackend picks where daily upload counters live.
func (app *Application) initQuotaBackend(ctx context.Context) error {
	if !strings.EqualFold(app.cfg.QuotaBackend, "redis") {
		app.counters = app.db.UploadCounters()
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, app.cfg.StoreTimeout)
	defer cancel()
	c, err := redis.Dial(dctx, redis.Options{
		Addr:      app.cfg.RedisAddr,
		Password:  app.cfg.RedisPassword,
		DB:        app.cfg.RedisDB,
		Retention: app.cfg.CounterRetention,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.redis = c
	app.counters = c
	app.logger.Info("upload counters stored in redis", "addr", app.cfg.RedisAddr)
	return nil
}

// initMessaging connects to the broker when AMQP_URL is set. A broker
// that cannot be reached is not fatal: reset tokens fall back to the log
// and audit escalation stops at the log line.
func (app *Application) initMessaging() {
	if app.cfg.AMQPURL == "" {
		return
	}
	p, err := messaging.Dial(app.cfg.AMQPURL, app.cfg.AMQPExchange, amqpDialRetries, amqpDialDelay)
	if err != nil {
		app.logger.Error("amqp unavailable, continuing without broker", slogx.Err(err))
		return
	}
	app.publisher = p
	app.logger.Info("amqp publisher ready", "exchange", app.cfg.AMQPExchange)
}

func (app *Application) initAudit() {
	opts := audit.Options{
		Buffer:       app.cfg.AuditBuffer,
		StoreTimeout: app.cfg.StoreTimeout,
		MaxElapsed:   app.cfg.AuditRetryMaxElapsed,
		Logger:       app.logger,
		Metrics:      app.metrics,
	}
	if app.publisher != nil {
		opts.Escalator = app.publisher
	}
	app.audit = audit.NewWriter(app.db.AuditLog(), opts)
}

// initServices initializes all business logic services.
func (app *Application) initServices() {
	app.tokenService = &service.TokenService{
		Signer:       app.signer,
		Verifier:     app.verifier,
		Store:        app.db,
		Audit:        app.audit,
		Metrics:      app.metrics,
		Issuer:       app.cfg.Issuer,
		AccessTTL:    app.cfg.AccessTokenTTL,
		RefreshTTL:   app.cfg.RefreshTokenTTL,
		StoreTimeout: app.cfg.StoreTimeout,
	}

	app.accountService = &service.AccountService{
		Store:        app.db,
		Tokens:       app.tokenService,
		Audit:        app.audit,
		Metrics:      app.metrics,
		StoreTimeout: app.cfg.StoreTimeout,
	}

	app.subscriptionService = &service.SubscriptionService{
		Store:         app.db,
		Audit:         app.audit,
		TrialDuration: app.cfg.TrialDuration,
		StoreTimeout:  app.cfg.StoreTimeout,
	}

	app.quotaService = &service.QuotaService{
		Subscriptions: app.subscriptionService,
		Counters:      app.counters,
		Audit:         app.audit,
		Metrics:       app.metrics,
		Limit:         app.cfg.FreeDailyUploads,
		StoreTimeout:  app.cfg.StoreTimeout,
	}

	var notifier service.ResetNotifier = service.LogNotifier{Logger: app.logger}
	if app.publisher != nil {
		notifier = app.publisher
	}
	app.passwordResetService = &service.PasswordResetService{
		Store:        app.db,
		Notifier:     notifier,
		Audit:        app.audit,
		TokenTTL:     app.cfg.ResetTokenTTL,
		StoreTimeout: app.cfg.StoreTimeout,
	}

	app.auditLogService = &service.AuditLogService{
		Store:        app.db,
		StoreTimeout: app.cfg.StoreTimeout,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	app.housekeepingService.Counters = app.counters
	app.housekeepingService.Metrics = app.metrics
	app.housekeepingService.CounterRetention = app.cfg.CounterRetention
	app.housekeepingService.RotatedRetention = app.cfg.RefreshTokenTTL
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() error {
	trusted, err := httpx.ParseTrustedProxies(app.cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("failed to parse trusted proxies: %w", err)
	}

	router := httpapi.NewRouter(
		app.verifier,
		BuildVersion,
		app.db,
		app.metrics,
		app.logger,
	)

	router.AccountService = app.accountService
	router.TokenService = app.tokenService
	router.SubscriptionService = app.subscriptionService
	router.QuotaService = app.quotaService
	router.PasswordResetService = app.passwordResetService
	router.AuditLogService = app.auditLogService
	router.Audit = app.audit
	router.AuditHealth = app.audit
	router.TrustedProxies = trusted
	router.SigninLimit = httpx.RateLimitConfig{
		RequestsPerWindow: app.cfg.SigninRateLimit,
		Window:            app.cfg.SigninRateWindow,
	}
	router.APILimit = httpx.RateLimitConfig{
		RequestsPerWindow: app.cfg.APIRateLimit,
		Window:            app.cfg.APIRateWindow,
	}
	router.UploadLimit = httpx.RateLimitConfig{
		RequestsPerWindow: app.cfg.UploadRateLimit,
		Window:            app.cfg.UploadRateWindow,
	}
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              app.cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return nil
}

// bootstrapAdmin makes sure the configured admin account exists.
func (app *Application) bootstrapAdmin(ctx context.Context) error {
	if app.cfg.BootstrapAdminEmail == "" {
		return nil
	}
	a, err := app.accountService.EnsureAdmin(ctx, app.cfg.BootstrapAdminEmail, app.cfg.BootstrapAdminPassword)
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin: %w", err)
	}
	app.logger.Info("bootstrap admin ready", "account_id", a.ID)
	return nil
}
