package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	RedisURL    string
	SentryDSN   string
	CronSecret  string
	SetupSecret string

	DBMaxOpenConns       int
	DBMaxIdleConns       int
	DBConnMaxLifetime    time.Duration
	DBConnMaxIdleTime    time.Duration
	StoreTimeout         time.Duration
	StoreRetryAttempts   int
	StoreRetryBackoff    time.Duration
	RunMigrations        bool
	AdminBootstrapUser   string
	AdminBootstrapSecret string

	MaxLoginAttempts int
	LockoutDuration  time.Duration
	SessionDuration  time.Duration

	CookieName      string
	CookieSecure    bool
	TrustRemoteAddr bool

	GeoPrimaryURL    string
	GeoFallbackURL   string
	GeoTimeout       time.Duration
	GeoRatePerMinute int

	SessionRetention   time.Duration
	RateLimitRetention time.Duration
	AuditRetention     time.Duration
	CleanupBatchSize   int
}

type Options struct {
	LoadDotEnv bool
}

var defaults = map[string]any{
	"APP_ENV":                       "development",
	"PORT":                          "8080",
	"DB_MAX_OPEN_CONNS":             10,
	"DB_MAX_IDLE_CONNS":             5,
	"DB_CONN_MAX_LIFETIME_MINUTES":  30,
	"DB_CONN_MAX_IDLE_TIME_MINUTES": 10,
	"STORE_TIMEOUT_MS":              3000,
	"STORE_RETRY_ATTEMPTS":          3,
	"STORE_RETRY_BACKOFF_MS":        100,
	"RUN_MIGRATIONS_ON_STARTUP":     false,
	"LOGIN_MAX_ATTEMPTS":            5,
	"LOGIN_LOCK_MINUTES":            15,
	"SESSION_DURATION_MINUTES":      24 * 60,
	"SESSION_COOKIE_NAME":           "admin_session",
	"SESSION_COOKIE_SECURE":         true,
	"TRUST_REMOTE_ADDR":             false,
	"GEO_PRIMARY_URL":               "http://ip-api.com",
	"GEO_FALLBACK_URL":              "https://ipapi.co",
	"GEO_TIMEOUT_MS":                2000,
	"GEO_RATE_PER_MINUTE":           40,
	"SESSION_RETENTION_DAYS":        7,
	"RATE_LIMIT_RETENTION_HOURS":    24,
	"AUDIT_RETENTION_DAYS":          0,
	"CLEANUP_BATCH_SIZE":            500,
}

// Load reads configuration from the environment. With LoadDotEnv set, a local
// .env file is merged in first without overriding variables already present.
func Load(options Options) (*Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{
		Env:         str(v, "APP_ENV"),
		Port:        str(v, "PORT"),
		DatabaseURL: str(v, "DATABASE_URL"),
		RedisURL:    str(v, "REDIS_URL"),
		SentryDSN:   str(v, "SENTRY_DSN"),
		CronSecret:  str(v, "CRON_SECRET"),
		SetupSecret: str(v, "SETUP_SECRET"),

		DBMaxOpenConns:       positiveInt(v, "DB_MAX_OPEN_CONNS"),
		DBMaxIdleConns:       positiveInt(v, "DB_MAX_IDLE_CONNS"),
		DBConnMaxLifetime:    time.Duration(positiveInt(v, "DB_CONN_MAX_LIFETIME_MINUTES")) * time.Minute,
		DBConnMaxIdleTime:    time.Duration(positiveInt(v, "DB_CONN_MAX_IDLE_TIME_MINUTES")) * time.Minute,
		StoreTimeout:         time.Duration(positiveInt(v, "STORE_TIMEOUT_MS")) * time.Millisecond,
		StoreRetryAttempts:   positiveInt(v, "STORE_RETRY_ATTEMPTS"),
		StoreRetryBackoff:    time.Duration(positiveInt(v, "STORE_RETRY_BACKOFF_MS")) * time.Millisecond,
		RunMigrations:        v.GetBool("RUN_MIGRATIONS_ON_STARTUP"),
		AdminBootstrapUser:   strings.ToLower(str(v, "ADMIN_USERNAME")),
		AdminBootstrapSecret: str(v, "ADMIN_PASSWORD"),

		MaxLoginAttempts: positiveInt(v, "LOGIN_MAX_ATTEMPTS"),
		LockoutDuration:  time.Duration(positiveInt(v, "LOGIN_LOCK_MINUTES")) * time.Minute,
		SessionDuration:  time.Duration(positiveInt(v, "SESSION_DURATION_MINUTES")) * time.Minute,

		CookieName:      str(v, "SESSION_COOKIE_NAME"),
		CookieSecure:    v.GetBool("SESSION_COOKIE_SECURE"),
		TrustRemoteAddr: v.GetBool("TRUST_REMOTE_ADDR"),

		GeoPrimaryURL:    strings.TrimRight(str(v, "GEO_PRIMARY_URL"), "/"),
		GeoFallbackURL:   strings.TrimRight(str(v, "GEO_FALLBACK_URL"), "/"),
		GeoTimeout:       time.Duration(positiveInt(v, "GEO_TIMEOUT_MS")) * time.Millisecond,
		GeoRatePerMinute: positiveInt(v, "GEO_RATE_PER_MINUTE"),

		SessionRetention:   time.Duration(positiveInt(v, "SESSION_RETENTION_DAYS")) * 24 * time.Hour,
		RateLimitRetention: time.Duration(positiveInt(v, "RATE_LIMIT_RETENTION_HOURS")) * time.Hour,
		AuditRetention:     time.Duration(v.GetInt("AUDIT_RETENTION_DAYS")) * 24 * time.Hour,
		CleanupBatchSize:   positiveInt(v, "CLEANUP_BATCH_SIZE"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("missing required env: DATABASE_URL")
	}
	if (cfg.AdminBootstrapUser == "") != (cfg.AdminBootstrapSecret == "") {
		return nil, fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}
	if cfg.IsProduction() && !cfg.CookieSecure {
		return nil, fmt.Errorf("SESSION_COOKIE_SECURE cannot be disabled in production")
	}
	if cfg.AuditRetention < 0 {
		cfg.AuditRetention = 0
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func str(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

// positiveInt falls back to the registered default for unparsable or
// non-positive values.
func positiveInt(v *viper.Viper, key string) int {
	fallback, _ := defaults[key].(int)
	raw := str(v, key)
	if raw == "" {
		return fallback
	}
	parsed := v.GetInt(key)
	if parsed <= 0 {
		return fallback
	}
	return parsed
}
