package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/config"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/database"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/http/handler"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/http/middleware"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/http/router"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/observability"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/repository"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/security"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/service"
)

// App owns every wired dependency and the HTTP server lifecycle.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *gorm.DB
	redis    redis.UniversalClient
	sessions repository.SessionRepository
	otel     *observability.Runtime
	server   *http.Server
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := NewLogger(cfg)
	slog.SetDefault(logger)

	otelRuntime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var redisClient redis.UniversalClient
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unreachable at startup, redis-backed features degrade", "addr", cfg.RedisAddr, "error", err.Error())
		}
	}

	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)

	hasher, err := security.NewPasswordHasher(cfg.BcryptCost, cfg.HashPoolSize)
	if err != nil {
		return nil, fmt.Errorf("init password hasher: %w", err)
	}
	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)

	authSvc := service.NewAuthService(users, hasher, cfg.RequireVerifiedEmail)
	tokenSvc := service.NewTokenService(jwtMgr, sessions, users, cfg.RefreshTokenPepper, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	sessionSvc := service.NewSessionService(sessions, cfg.RefreshTokenPepper)

	var csrfStore service.CsrfStore
	var backoff service.LoginBackoffGuard
	var idemStore service.IdempotencyStore
	if redisClient != nil {
		csrfStore = service.NewRedisCsrfStore(redisClient, "csrf")
		backoff = service.NewRedisLoginBackoffGuard(redisClient, "login_backoff", service.LoginBackoffPolicy{})
		idemStore = service.NewRedisIdempotencyStore(redisClient, "idem")
	} else {
		csrfStore = service.NewInMemoryCsrfStore()
		backoff = service.NewNoopLoginBackoffGuard()
	}

	authLimiter, generalLimiter := buildLimiters(cfg, redisClient)

	authHandler := handler.NewAuthHandler(authSvc, tokenSvc, sessionSvc, csrfStore, backoff, cfg.CookieSecure)
	adminHandler := handler.NewAdminHandler(users, tokenSvc)
	healthHandler := handler.NewHealthHandler(db, redisClient)

	h := router.New(router.Deps{
		Auth:                 authHandler,
		Admin:                adminHandler,
		Health:               healthHandler,
		JWT:                  jwtMgr,
		Users:                users,
		CsrfStore:            csrfStore,
		Idem:                 idemStore,
		AuthLimiter:          authLimiter,
		GeneralLimiter:       generalLimiter,
		RequireVerifiedEmail: cfg.RequireVerifiedEmail,
		CORSOrigins:          cfg.CORSOrigins,
		RequestTimeout:       cfg.RequestTimeout,
		IdempotencyTTL:       24 * time.Hour,
		TracingEnabled:       cfg.OTELTracesEnabled,
	})

	return &App{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		redis:    redisClient,
		sessions: sessions,
		otel:     otelRuntime,
		server: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// buildLimiters applies the configured backend. The auth class fails closed:
// if the shared counter store is down we would rather refuse logins than
// let a brute-force run uncounted. The general class fails open.
func buildLimiters(cfg *config.Config, redisClient redis.UniversalClient) (*middleware.RateLimiter, *middleware.RateLimiter) {
	if cfg.RateLimitBackend == "redis" && redisClient != nil {
		backend := middleware.NewRedisFixedWindowLimiter(redisClient, "ratelimit")
		return middleware.NewRateLimiterWithBackend(backend, cfg.AuthRateLimit, cfg.RateLimitWindow, middleware.FailClosed, "auth"),
			middleware.NewRateLimiterWithBackend(backend, cfg.APIRateLimit, cfg.RateLimitWindow, middleware.FailOpen, "api")
	}
	return middleware.NewRateLimiter(cfg.AuthRateLimit, cfg.RateLimitWindow, "auth"),
		middleware.NewRateLimiter(cfg.APIRateLimit, cfg.RateLimitWindow, "api")
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.cfg.HTTPAddr, "env", a.cfg.Environment)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.logger.Info("shutting down")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return a.Close(shutdownCtx)
}

func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.otel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CleanupSessions removes rows for sessions past their expiry. Meant to run
// from a cron-style invocation, not the serving path.
func (a *App) CleanupSessions(ctx context.Context) (int64, error) {
	return a.sessions.CleanupExpired(ctx)
}

func NewLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if !cfg.IsProduction() {
		level = slog.LevelDebug
	}
	var h slog.Handler
	if cfg.IsProduction() {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h).With("service", cfg.OTELServiceName)
}
