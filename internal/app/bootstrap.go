package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"admin-session/internal/audit"
	"admin-session/internal/auth"
	"admin-session/internal/config"
	"admin-session/internal/db"
	"admin-session/internal/geo"
	"admin-session/internal/maintenance"
	"admin-session/internal/observability"
	"admin-session/internal/pages"
)

type Options struct {
	LoadDotEnv bool
	// ForceMigrations runs migrations regardless of RUN_MIGRATIONS_ON_STARTUP.
	ForceMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Config  *config.Config
	Close   func() error
}

func Build(ctx context.Context, options Options) (*Runtime, error) {
	logger := observability.NewLogger()

	cfg, err := config.Load(config.Options{LoadDotEnv: options.LoadDotEnv})
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}

	if options.ForceMigrations || cfg.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	policy := db.Policy{
		Timeout:  cfg.StoreTimeout,
		Attempts: cfg.StoreRetryAttempts,
		Backoff:  cfg.StoreRetryBackoff,
	}
	authRepo := auth.NewRepository(database, policy)
	auditRepo := audit.NewRepository(database, policy)

	var counters auth.RateLimitStore = authRepo
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = auth.NewRedisClient(cfg.RedisURL)
		if err != nil {
			_ = database.Close()
			return nil, err
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			_ = database.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		counters = auth.NewRedisCounterStore(redisClient, cfg.RateLimitRetention)
		logger.Info("rate_limit_store", map[string]any{"backend": "redis"})
	}

	locator := geo.NewDefaultClient(cfg.GeoPrimaryURL, cfg.GeoFallbackURL,
		geo.WithTimeout(cfg.GeoTimeout),
		geo.WithRatePerMinute(cfg.GeoRatePerMinute),
		geo.WithErrorHook(func(provider string, err error) {
			logger.Warn("geo_lookup_failed", map[string]any{"provider": provider, "error": err.Error()})
		}),
	)
	auditLogger := audit.NewLogger(auditRepo, locator, logger)

	sessions := auth.NewSessionManager(authRepo, cfg.SessionDuration)
	limiter := auth.NewRateLimiter(counters, cfg.MaxLoginAttempts, cfg.LockoutDuration)
	authService := auth.NewService(authRepo, sessions, limiter, auditLogger, logger)
	authService.WithSetupSecret(cfg.SetupSecret)

	if err := authService.BootstrapFromEnv(ctx, cfg.AdminBootstrapUser, cfg.AdminBootstrapSecret); err != nil {
		_ = closeAll(database, redisClient)
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	resolver := auth.IPResolver{TrustRemoteAddr: cfg.TrustRemoteAddr}
	cookie := auth.CookieConfig{Name: cfg.CookieName, Secure: cfg.CookieSecure}
	gate := auth.NewGate(sessions, auditLogger, resolver, cookie, logger)
	authHandler := auth.NewHandler(authService, resolver, cookie, logger)
	auditHandler := audit.NewHandler(auditRepo)
	cleanupHandler := maintenance.NewCleanupHandler(authRepo, auditRepo, logger, cfg.CronSecret, maintenance.Retention{
		Sessions:   cfg.SessionRetention,
		RateLimits: cfg.RateLimitRetention,
		Audit:      cfg.AuditRetention,
		BatchSize:  cfg.CleanupBatchSize,
	})

	router := chi.NewRouter()
	router.Get("/health", healthHandler(database, redisClient))
	router.Get("/internal/maintenance/cleanup", cleanupHandler.Handle)
	router.Post("/internal/maintenance/cleanup", cleanupHandler.Handle)

	router.Route("/api/admin", func(r chi.Router) {
		r.Post("/auth", authHandler.Login)
		r.Get("/auth", authHandler.Status)
		r.Delete("/auth", authHandler.Logout)
		r.Post("/setup", authHandler.Setup)

		r.Group(func(r chi.Router) {
			r.Use(gate.API)
			r.Get("/audit-logs", auditHandler.ListEntries)
			r.Post("/accounts/{username}/deactivate", authHandler.Deactivate)
		})
	})

	router.Get("/unauthorized", pages.Unauthorized)
	router.Get("/admin/login", pages.Login)
	router.Group(func(r chi.Router) {
		r.Use(gate.Page)
		r.Get("/admin", pages.AdminShell)
		r.Get("/admin/*", pages.AdminShell)
	})

	handler := observability.RecoverMiddleware(logger, middleware.RequestID(
		observability.RequestLoggingMiddleware(logger, resolver.ClientIP, router)))

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Close: func() error {
			observability.FlushSentry()
			return closeAll(database, redisClient)
		},
	}, nil
}

func closeAll(database *sql.DB, redisClient *redis.Client) error {
	var errs []error
	if redisClient != nil {
		errs = append(errs, redisClient.Close())
	}
	errs = append(errs, database.Close())
	return errors.Join(errs...)
}
