package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"tasklog-api/api"
	"tasklog-api/config"
	"tasklog-api/domain"
	"tasklog-api/storage"
)

func main() {
	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})

	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	store, err := storage.New(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		logger.Fatalf("migrate: %v", err)
	}
	if err := store.EnsureUsers(ctx, seedUsers(cfg.Users)); err != nil {
		logger.Fatalf("seed users: %v", err)
	}

	var (
		sink      domain.AuditSink
		forwarder *storage.AuditForwarder
	)
	if cfg.Audit.ConnectionString != "" {
		queue, err := storage.NewAuditQueue(cfg.Audit.ConnectionString, cfg.Audit.Queue)
		if err != nil {
			logger.Fatalf("audit queue: %v", err)
		}
		forwarder = storage.NewAuditForwarder(queue, storage.ForwarderConfig{
			Workers:        cfg.Audit.Workers,
			Buffer:         cfg.Audit.Buffer,
			SendTimeout:    cfg.Audit.SendTimeout,
			HandoffTimeout: cfg.Audit.HandoffTimeout,
		}, runtime.NumCPU(), logger)
		sink = forwarder
	}

	var svc api.Service = domain.NewTaskService(store, sink, logger)
	var deduper api.Deduper
	var rc *redis.Client
	if cfg.Redis.ConnectionString != "" {
		redisOpts, err := storage.ParseRedisOptions(cfg.Redis.ConnectionString)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(redisOpts)
		svc = storage.NewCache(svc, rc, cfg.Redis.CacheTTL, logger)
		deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set; list cache and idempotency keys disabled")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept,
			echo.HeaderContentEncoding, api.HeaderUserID, api.HeaderIdempotencyKey,
		},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(echoprometheus.NewMiddleware("tasklog"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, svc, deduper, store, logger)

	go func() {
		logger.Infof("listening on %s", cfg.Listen)
		if err := e.Start(cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	if forwarder != nil {
		if err := forwarder.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("audit forwarder shutdown")
		}
	}
	if rc != nil {
		if err := rc.Close(); err != nil {
			logger.WithError(err).Error("redis close")
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("tracer shutdown")
	}
	if err := store.Close(); err != nil {
		logger.WithError(err).Error("storage close")
	}
}

func seedUsers(users []config.UserConfig) []domain.User {
	out := make([]domain.User, 0, len(users))
	for _, u := range users {
		out = append(out, domain.User{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	return out
}
