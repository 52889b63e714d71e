package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, "sqlite", cfg.DBDriver)
	require.True(t, cfg.MigrateOnStart)
	require.Equal(t, "HS256", cfg.JWTAlg)
	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 168*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, time.Hour, cfg.ResetTokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.TrialDuration)
	require.Equal(t, 2, cfg.FreeDailyUploads)
	require.Equal(t, 3*time.Second, cfg.StoreTimeout)
	require.Equal(t, "sql", cfg.QuotaBackend)
	require.Equal(t, 5, cfg.SigninRateLimit)
	require.Equal(t, 15*time.Minute, cfg.SigninRateWindow)
	require.Equal(t, 720*time.Hour, cfg.CounterRetention)
}

func TestLoadConfig_FileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	yaml := []byte("issuer: from-file\nfree_daily_uploads: 5\njwt_secret: " + testSecret + "\n")
	require.NoError(t, os.WriteFile(path, yaml, 0600))

	t.Setenv("FREE_DAILY_UPLOADS", "3")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.Issuer)
	require.Equal(t, 3, cfg.FreeDailyUploads)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			DBDriver:         "sqlite",
			JWTAlg:           "HS256",
			JWTSecret:        testSecret,
			FreeDailyUploads: 2,
			QuotaBackend:     "sql",
			SigninRateLimit:  5,
			SigninRateWindow: 15 * time.Minute,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "eddsa without secret", mutate: func(c *Config) { c.JWTAlg = "EdDSA"; c.JWTSecret = "" }},
		{name: "unknown driver", mutate: func(c *Config) { c.DBDriver = "mysql" }, wantErr: "DB_DRIVER"},
		{name: "unknown algorithm", mutate: func(c *Config) { c.JWTAlg = "RS256" }, wantErr: "JWT_ALG"},
		{name: "short secret", mutate: func(c *Config) { c.JWTSecret = "short" }, wantErr: "JWT_SECRET"},
		{name: "zero quota", mutate: func(c *Config) { c.FreeDailyUploads = 0 }, wantErr: "FREE_DAILY_UPLOADS"},
		{name: "redis without addr", mutate: func(c *Config) { c.QuotaBackend = "redis" }, wantErr: "REDIS_ADDR"},
		{name: "unknown backend", mutate: func(c *Config) { c.QuotaBackend = "memcached" }, wantErr: "QUOTA_BACKEND"},
		{name: "signin limit off", mutate: func(c *Config) { c.SigninRateLimit = 0 }, wantErr: "SIGNIN_RATE_LIMIT"},
		{name: "trusted proxies", mutate: func(c *Config) { c.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.7"} }},
		{name: "bad trusted proxy", mutate: func(c *Config) { c.TrustedProxies = []string{"10.0.0.0/33"} }, wantErr: "TRUSTED_PROXIES"},
		{name: "half bootstrap", mutate: func(c *Config) { c.BootstrapAdminEmail = "root@example.com" }, wantErr: "BOOTSTRAP_ADMIN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfig_TrustedProxiesFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.7")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.0/8", "192.0.2.7"}, cfg.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "not-an-ip")
	_, err = LoadConfig("")
	require.ErrorContains(t, err, "TRUSTED_PROXIES")
}

func TestMustLoadConfig_Panics(t *testing.T) {
	t.Setenv("DB_DRIVER", "oracle")
	require.Panics(t, func() { MustLoadConfig("") })
}
