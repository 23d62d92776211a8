package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lyceum-lms/lyceum-lms/internal/app"
	"github.com/lyceum-lms/lyceum-lms/internal/audit"
	"github.com/lyceum-lms/lyceum-lms/internal/auth"
	"github.com/lyceum-lms/lyceum-lms/internal/authz"
	"github.com/lyceum-lms/lyceum-lms/internal/observability"
	"github.com/lyceum-lms/lyceum-lms/internal/platform/cache"
	"github.com/lyceum-lms/lyceum-lms/internal/platform/db"
	"github.com/lyceum-lms/lyceum-lms/internal/users"
	"github.com/lyceum-lms/lyceum-lms/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	authzRepo := authz.NewPGRepository(pool)
	catalog := authz.NewCatalog(authzRepo)
	registry := authz.NewRegistry(authzRepo, catalog)
	assignments := authz.NewAssignments(authzRepo)
	engine := authz.NewEngine(authzRepo, registry, metrics)
	permCache := authz.NewPermissionCache(redisClient, engine, cfg.PermissionCacheTTL, logger)
	authzMW := authz.Middleware{Cache: permCache, Logger: logger}

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo, logger)
	guard := authz.NewGuard(authzRepo, auditService)

	if err := authz.Provision(ctx, logger, catalog, registry); err != nil {
		logger.Error("provision roles", slog.Any("error", err))
		os.Exit(1)
	}

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, registry, assignments, logger)

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, usersRepo, cfg.TokenTTL)
	authHandler := auth.NewHandler(logger, authService)

	authzHandler := authz.NewHandler(logger, catalog, registry, assignments, engine, guard, permCache, authzMW)
	usersHandler := users.NewHandler(logger, usersService, authzMW)
	auditHandler := audit.NewHandler(logger, auditService, authzMW)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		AuthService:  authService,
		AuthHandler:  authHandler,
		AuthzHandler: authzHandler,
		UsersHandler: usersHandler,
		AuditHandler: auditHandler,
		JobsHandler:  jobsHandler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
