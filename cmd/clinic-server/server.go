package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/availability"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/eventbus"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/websocket"
)

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// serverDeps are the collaborators the router is built from. Pool and
// Migrator are nil when running in memory.
type serverDeps struct {
	Service  *availability.Service
	Hub      *websocket.Hub
	Pool     *pgxpool.Pool
	Migrator *db.Migrator
}

func newRouter(cfg *config.Config, deps serverDeps, logger zerolog.Logger) (*echo.Echo, error) {
	timeout, err := cfg.RequestTimeoutDuration()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(echomw.SecureWithConfig(echomw.SecureConfig{
		XSSProtection:      "0",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000,
		ReferrerPolicy:     "no-referrer",
	}))
	e.Use(echomw.BodyLimit("256K"))
	if timeout > 0 {
		e.Use(middleware.RequestTimeout(timeout))
	}

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Pool != nil {
		e.GET("/health/db", db.HealthHandler(deps.Pool, deps.Migrator, "tenant_"+cfg.DefaultTenant))
	}

	websocket.NewWebSocketHandler(deps.Hub, cfg.CORSOrigins, logger).RegisterRoutes(e.Group(""))

	apiV1 := e.Group("/api/v1", middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	if deps.Pool != nil {
		apiV1.Use(db.TenantMiddleware(deps.Pool, cfg.DefaultTenant))
	} else {
		// the in-memory store is shared, but events still go to the caller's tenant
		apiV1.Use(db.TenantContext(cfg.DefaultTenant))
	}
	availability.NewHandler(deps.Service).RegisterRoutes(apiV1)

	return e, nil
}

func runServer(memory bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.IsDev())
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: unauthenticated requests are served as admin; set ENV=production and AUTH_SIGNING_KEY before exposing this server")
	}

	loc, err := cfg.ClinicLocation()
	if err != nil {
		return err
	}
	clock := availability.NewSystemClock(loc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := serverDeps{Hub: websocket.NewHub(cfg.DefaultTenant, logger)}
	if memory {
		store := availability.NewMemoryStore()
		deps.Service = availability.NewService(store.Schedules(), store.Exceptions(), store.Bookings(), clock, logger)
		logger.Warn().Msg("in-memory store: data is lost on exit")
	} else {
		if err := cfg.RequireDatabase(); err != nil {
			logger.Fatal().Err(err).Msg("database configuration")
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
			TimeZone: cfg.ClinicTimezone,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		deps.Pool = pool
		deps.Migrator = db.NewMigrator(pool, db.MigrationSource(cfg.MigrationsDir))
		deps.Service = availability.NewService(
			availability.NewScheduleRepoPG(pool),
			availability.NewExceptionRepoPG(pool),
			availability.NewBookingRepoPG(pool),
			clock,
			logger,
		)
	}

	var publisher availability.EventPublisher = deps.Hub
	if cfg.RedisURL != "" {
		client, err := eventbus.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()

		relay := eventbus.NewRedisRelay(client, eventbus.DefaultChannel, deps.Hub, logger)
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("event relay stopped")
			}
		}()
		publisher = relay
	}
	deps.Service.SetPublisher(publisher)

	e, err := newRouter(cfg, deps, logger)
	if err != nil {
		return err
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
		return err
	}
	return nil
}
