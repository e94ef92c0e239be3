package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/config"
	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/identity"
	"github.com/clinicdesk/clinic/internal/domain/inventory"
	"github.com/clinicdesk/clinic/internal/domain/prescription"
	"github.com/clinicdesk/clinic/internal/domain/queue"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/audit"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/middleware"
	"github.com/clinicdesk/clinic/internal/platform/openapi"
	"github.com/clinicdesk/clinic/internal/platform/reporting"
	"github.com/clinicdesk/clinic/internal/platform/telemetry"
	"github.com/clinicdesk/clinic/internal/platform/websocket"
)

const apiVersion = "1.0.0"

// services holds one instance of every domain service.
type services struct {
	identity     *identity.Service
	queue        *queue.Service
	inventory    *inventory.Service
	billing      *billing.Service
	prescription *prescription.Service
	live         *websocket.Hub
	reports      *reporting.Handler
	audit        audit.Store
}

func newServices(pool *pgxpool.Pool, tx db.Transactor, sessions *auth.SessionManager, loc *time.Location, metrics *telemetry.Metrics, logger zerolog.Logger) *services {
	s := &services{
		identity:  identity.NewService(identity.NewPatientRepo(pool), identity.NewStaffRepo(pool), sessions, logger),
		queue:     queue.NewService(queue.NewRepo(pool), tx, logger),
		inventory: inventory.NewService(inventory.NewRepo(pool), tx, logger),
		billing:   billing.NewService(billing.NewRepo(pool), logger, loc),
		reports:   reporting.NewHandler(pool, loc),
		audit:     audit.NewStore(pool),
	}
	s.prescription = prescription.NewService(prescription.NewRepo(pool), tx, s.inventory, s.billing, s.queue, logger)

	s.identity.SetMetrics(metrics)
	s.queue.SetMetrics(metrics)
	s.inventory.SetMetrics(metrics)
	s.prescription.SetMetrics(metrics)

	s.live = websocket.NewHub(logger)
	s.queue.SetPublisher(s.live)
	s.inventory.SetPublisher(s.live)
	s.prescription.SetPublisher(s.live)
	return s
}

// auditedReads are GET routes exposing patient records; every other audited
// request is a write.
var auditedReads = []string{
	"/api/v1/patients/:id",
	"/api/v1/patients/:id/history",
	"/api/v1/patients/:id/prescriptions",
	"/api/v1/prescriptions/:id",
}

// newRouter builds the echo instance with the global middleware chain and
// every route mounted.
func newRouter(cfg *config.Config, logger zerolog.Logger, tp *telemetry.TelemetryProvider, health db.HealthSource, sessions *auth.SessionManager, svc *services) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	e.Use(middleware.RequestID())
	if cfg.TracingEnabled {
		e.Use(tp.TracingMiddleware())
	}
	if cfg.MetricsEnabled {
		e.Use(tp.MetricsMiddleware())
	}
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	e.Use(auth.Middleware(sessions))
	e.Use(audit.Trail(svc.audit, audit.Routes(auditedReads...), logger))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
		Skipper:           auth.PublicSkipper,
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(health))
	if cfg.MetricsEnabled {
		e.GET("/metrics", tp.PrometheusHandler())
	}

	identityHandler := identity.NewHandler(svc.identity, sessions)
	identityHandler.RegisterAuthRoutes(e.Group("/api"))

	apiV1 := e.Group("/api/v1")
	identityHandler.RegisterRoutes(apiV1)
	queue.NewHandler(svc.queue).RegisterRoutes(apiV1)
	inventory.NewHandler(svc.inventory).RegisterRoutes(apiV1)
	billing.NewHandler(svc.billing).RegisterRoutes(apiV1)
	prescription.NewHandler(svc.prescription).RegisterRoutes(apiV1)
	websocket.NewHandler(svc.live, cfg.CORSOrigins).RegisterRoutes(apiV1)
	svc.reports.RegisterRoutes(apiV1)
	audit.NewHandler(svc.audit, logger).RegisterRoutes(apiV1)
	openapi.NewGenerator(e.Routes, "/api", apiVersion).RegisterRoutes(e.Group("/api"))

	return e
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	tp, err := telemetry.NewTelemetryProvider(ctx, telemetry.TelemetryConfig{
		ServiceName:    "clinic-server",
		ServiceVersion: apiVersion,
		Environment:    cfg.Env,
		MetricsEnabled: cfg.MetricsEnabled,
		TracingEnabled: cfg.TracingEnabled,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	metrics := tp.Metrics()
	tx := db.NewTransactor(pool, db.WithMaxRetries(cfg.TxMaxRetries), db.WithRetryHook(metrics.TxRetried))
	revoked := auth.NewRevocationList(5 * time.Minute)
	defer revoked.Close()
	sessions := auth.NewSessionManager([]byte(cfg.SessionSecret), cfg.SessionTTL, cfg.IsProduction()).WithRevocations(revoked)

	svc := newServices(pool, tx, sessions, loc, metrics, logger)
	e := newRouter(cfg, logger, tp, db.PoolHealth(pool), sessions, svc)

	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.IdleTimeout = 120 * time.Second

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("telemetry shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
