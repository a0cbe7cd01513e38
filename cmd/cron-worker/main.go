package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/boardfeed-backend/internal/cron"
	"github.com/angelmondragon/boardfeed-backend/internal/dlq"
	"github.com/angelmondragon/boardfeed-backend/internal/events"
	"github.com/angelmondragon/boardfeed-backend/internal/readmodel/handlers"
	"github.com/angelmondragon/boardfeed-backend/internal/source"
	"github.com/angelmondragon/boardfeed-backend/internal/supervisor"
	"github.com/angelmondragon/boardfeed-backend/pkg/config"
	"github.com/angelmondragon/boardfeed-backend/pkg/db"
	"github.com/angelmondragon/boardfeed-backend/pkg/instance"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/metrics"
	"github.com/angelmondragon/boardfeed-backend/pkg/migrate"
	"github.com/angelmondragon/boardfeed-backend/pkg/ops"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/boardfeed-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stores, err := handlers.NewStores(redisClient, logg, cfg.Cache)
	if err != nil {
		logg.Error(context.Background(), "failed to build read-model stores", err)
		os.Exit(1)
	}
	eventHandlers, err := handlers.All(stores)
	if err != nil {
		logg.Error(context.Background(), "failed to build event handlers", err)
		os.Exit(1)
	}
	eventRegistry, err := events.NewRegistry(logg, eventHandlers...)
	if err != nil {
		logg.Error(context.Background(), "failed to build handler registry", err)
		os.Exit(1)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)
	status := outbox.NewStatusRepository(dbClient.DB())
	dlqRepo := outbox.NewDLQRepository(dbClient.DB())

	guard, err := idempotency.NewManager(redisClient, status, cfg.Eventing.IdempotencyTTL, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build idempotency manager", err)
		os.Exit(1)
	}
	dlqService, err := dlq.NewService(dlq.ServiceParams{
		DB:            dbClient,
		DeadLetters:   dlqRepo,
		Status:        status,
		Decoder:       events.NewDecoder(),
		Dispatcher:    eventRegistry,
		Idempotency:   guard,
		Logger:        logg,
		Metrics:       pipelineMetrics,
		RatePerSecond: cfg.DLQ.RatePerSecond,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build dlq service", err)
		os.Exit(1)
	}

	regs, err := buildJobs(jobDeps{
		Config:      cfg,
		Logger:      logg,
		Stores:      stores,
		Source:      source.NewStore(dbClient.DB()),
		Registry:    eventRegistry,
		DeadLetters: dlqService,
		DLQRepo:     dlqRepo,
		Status:      status,
		Outbox:      outbox.NewRepository(dbClient.DB()),
		Metrics:     pipelineMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	for _, reg := range regs {
		if err := registry.Register(reg); err != nil {
			logg.Error(context.Background(), "failed to register cron job", err)
			os.Exit(1)
		}
	}

	scheduler, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locks:    cron.RedisLockFactory(redisClient.Cmdable()),
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	router, err := ops.NewRouter(ops.RouterParams{
		Env:    cfg.App.Env,
		Logger: logg,
		Dependencies: map[string]ops.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Gatherer:    prometheus.DefaultGatherer,
		DeadLetters: dlqService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build ops router", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	sup := supervisor.New(ctx, "cron-worker", logg, supervisor.Options{})
	if err := supervisor.Run(ctx, sup, scheduler, ops.NewServer(cfg.Ops.Addr, router, logg)); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
