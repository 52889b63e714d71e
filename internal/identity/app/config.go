package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anamul94/DietGuard/pkg/httpx"
	"github.com/anamul94/DietGuard/pkg/jwtx"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config is read from an optional YAML file, then the environment.
// Environment values always win.
type Config struct {
	Env    string `yaml:"env" env:"IDENTITY_ENV" env-default:"dev"`
	Addr   string `yaml:"addr" env:"IDENTITY_ADDR" env-default:":8080"`
	Issuer string `yaml:"issuer" env:"IDENTITY_ISSUER" env-default:"dietguard-identity"`

	DBDriver       string `yaml:"db_driver" env:"DB_DRIVER" env-default:"sqlite"`
	DBDSN          string `yaml:"db_dsn" env:"DB_DSN" env-default:"identity.db"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"MIGRATE_ON_START" env-default:"true"`

	JWTAlg     string `yaml:"jwt_alg" env:"JWT_ALG" env-default:"HS256"`
	JWTSecret  string `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTKeyPath string `yaml:"jwt_key_path" env:"JWT_KEY_PATH" env-default:"data/jwt_ed25519.pem"`
	PepperPath string `yaml:"pepper_path" env:"PEPPER_PATH" env-default:"data/pepper"`

	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	ResetTokenTTL   time.Duration `yaml:"reset_token_ttl" env:"RESET_TOKEN_TTL" env-default:"1h"`
	TrialDuration   time.Duration `yaml:"trial_duration" env:"TRIAL_DURATION" env-default:"168h"`
	StoreTimeout    time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT" env-default:"3s"`

	FreeDailyUploads int    `yaml:"free_daily_uploads" env:"FREE_DAILY_UPLOADS" env-default:"2"`
	QuotaBackend     string `yaml:"quota_backend" env:"QUOTA_BACKEND" env-default:"sql"`

	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`

	AMQPURL      string `yaml:"amqp_url" env:"AMQP_URL"`
	AMQPExchange string `yaml:"amqp_exchange" env:"AMQP_EXCHANGE" env-default:"identity"`

	SigninRateLimit  int           `yaml:"signin_rate_limit" env:"SIGNIN_RATE_LIMIT" env-default:"5"`
	SigninRateWindow time.Duration `yaml:"signin_rate_window" env:"SIGNIN_RATE_WINDOW" env-default:"15m"`
	APIRateLimit     int           `yaml:"api_rate_limit" env:"API_RATE_LIMIT" env-default:"0"`
	APIRateWindow    time.Duration `yaml:"api_rate_window" env:"API_RATE_WINDOW" env-default:"1m"`
	UploadRateLimit  int           `yaml:"upload_rate_limit" env:"UPLOAD_RATE_LIMIT" env-default:"0"`
	UploadRateWindow time.Duration `yaml:"upload_rate_window" env:"UPLOAD_RATE_WINDOW" env-default:"1m"`

	// TrustedProxies are CIDRs or addresses whose X-Forwarded-For is
	// believed. Empty means the socket peer is always the client.
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" env-separator:","`

	HousekeepingInterval time.Duration `yaml:"housekeeping_interval" env:"HOUSEKEEPING_INTERVAL" env-default:"1h"`
	CounterRetention     time.Duration `yaml:"counter_retention" env:"COUNTER_RETENTION" env-default:"720h"`
	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period" env:"SHUTDOWN_GRACE_PERIOD" env-default:"10s"`

	AuditBuffer          int           `yaml:"audit_buffer" env:"AUDIT_BUFFER" env-default:"1024"`
	AuditRetryMaxElapsed time.Duration `yaml:"audit_retry_max_elapsed" env:"AUDIT_RETRY_MAX_ELAPSED" env-default:"30s"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" env-default:"json"`

	BootstrapAdminEmail    string `yaml:"bootstrap_admin_email" env:"BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapAdminPassword string `yaml:"bootstrap_admin_password" env:"BOOTSTRAP_ADMIN_PASSWORD"`
}

// LoadConfig reads path when it is non-empty and the environment
// otherwise. The result is validated.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("app: read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoadConfig is LoadConfig for main.
func MustLoadConfig(path string) Config {
	cfg, err := LoadConfig(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER: unknown driver %q", c.DBDriver))
	}

	alg, err := jwtx.ParseAlg(c.JWTAlg)
	if err != nil {
		errs = append(errs, fmt.Errorf("JWT_ALG: %w", err))
	}
	if alg == jwtx.AlgHS256 && len(c.JWTSecret) < jwtx.MinHS256SecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET: at least %d bytes required for HS256", jwtx.MinHS256SecretLen))
	}

	if c.SigninRateLimit <= 0 || c.SigninRateWindow <= 0 {
		errs = append(errs, errors.New("SIGNIN_RATE_LIMIT and SIGNIN_RATE_WINDOW: must be positive"))
	}
	if c.APIRateLimit > 0 && c.APIRateWindow <= 0 {
		errs = append(errs, errors.New("API_RATE_WINDOW: must be positive when API_RATE_LIMIT is set"))
	}
	if c.UploadRateLimit > 0 && c.UploadRateWindow <= 0 {
		errs = append(errs, errors.New("UPLOAD_RATE_WINDOW: must be positive when UPLOAD_RATE_LIMIT is set"))
	}

	if _, err := httpx.ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: %w", err))
	}

	if c.FreeDailyUploads <= 0 {
		errs = append(errs, errors.New("FREE_DAILY_UPLOADS: must be positive"))
	}

	switch strings.ToLower(c.QuotaBackend) {
	case "sql":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR: required with QUOTA_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("QUOTA_BACKEND: unknown backend %q", c.QuotaBackend))
	}

	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		errs = append(errs, errors.New("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("app: invalid config: %w", errors.Join(errs...))
	}
	return nil
}
