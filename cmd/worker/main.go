package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/lyceum-lms/lyceum-lms/internal/app"
	"github.com/lyceum-lms/lyceum-lms/internal/auth"
	"github.com/lyceum-lms/lyceum-lms/internal/authz"
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

	authzRepo := authz.NewPGRepository(pool)
	catalog := authz.NewCatalog(authzRepo)
	registry := authz.NewRegistry(authzRepo, catalog)
	engine := authz.NewEngine(authzRepo, registry, nil)
	permCache := authz.NewPermissionCache(redisClient, engine, cfg.PermissionCacheTTL, logger)

	usersRepo := users.NewRepository(pool)
	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, usersRepo, cfg.TokenTTL)

	purgeTask, err := jobs.NewAssignmentPurgeTask(jobs.AssignmentPurgePayload{Retention: cfg.AssignmentRetention})
	if err != nil {
		logger.Error("build purge task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewPermissionWarmupTask(jobs.PermissionWarmupPayload{Limit: 500})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAssignmentPurge, Handler: jobs.NewAssignmentPurgeHandler(pool, logger)},
			{Type: jobs.TaskTokenPurge, Handler: jobs.NewTokenPurgeHandler(authService, logger)},
			{Type: jobs.TaskPermissionWarmup, Handler: jobs.NewPermissionWarmupHandler(pool, permCache, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 2 * * *", Task: purgeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 2 * * *", Task: jobs.NewTokenPurgeTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 * * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
