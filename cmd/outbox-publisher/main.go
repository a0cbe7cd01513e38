package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/boardfeed-backend/internal/cron"
	"github.com/angelmondragon/boardfeed-backend/internal/relay"
	"github.com/angelmondragon/boardfeed-backend/internal/supervisor"
	"github.com/angelmondragon/boardfeed-backend/pkg/config"
	"github.com/angelmondragon/boardfeed-backend/pkg/db"
	"github.com/angelmondragon/boardfeed-backend/pkg/instance"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/metrics"
	"github.com/angelmondragon/boardfeed-backend/pkg/migrate"
	"github.com/angelmondragon/boardfeed-backend/pkg/ops"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox/registry"
	"github.com/angelmondragon/boardfeed-backend/pkg/pubsub"
	"github.com/angelmondragon/boardfeed-backend/pkg/redis"
)

const (
	relayMinHold = time.Second
	relayMaxHold = 30 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "outbox-publisher"

	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		logg.Error(context.Background(), "failed to build event registry", err)
		os.Exit(1)
	}
	publisher, err := relay.NewPubSubPublisher(pubsubClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build publisher", err)
		os.Exit(1)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)
	repo := outbox.NewRepository(dbClient.DB())

	processor, err := relay.NewProcessor(relay.ProcessorParams{
		Config:     cfg.Outbox,
		Registry:   eventRegistry,
		Publisher:  publisher,
		Repository: repo,
		DLQ:        outbox.NewDLQRepository(dbClient.DB()),
		Logger:     logg,
		Metrics:    pipelineMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build outbox processor", err)
		os.Exit(1)
	}
	relayJob, err := relay.NewRelay(relay.RelayParams{
		Config:     cfg.Outbox,
		DB:         dbClient,
		Repository: repo,
		Processor:  processor,
		Logger:     logg,
		Metrics:    pipelineMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build outbox relay", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: repo,
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build outbox retention job", err)
		os.Exit(1)
	}

	cronRegistry := cron.NewRegistry()
	if err := cronRegistry.Register(cron.Registration{
		Job:      relayJob,
		Schedule: cfg.Outbox.RelaySchedule,
		MinHold:  relayMinHold,
		MaxHold:  relayMaxHold,
	}); err != nil {
		logg.Error(context.Background(), "failed to register outbox relay", err)
		os.Exit(1)
	}
	if err := cronRegistry.Register(cron.Registration{
		Job:      retentionJob,
		Schedule: cfg.Outbox.RetentionCron,
		MinHold:  cfg.Scheduler.LockMinHold,
		MaxHold:  cfg.Scheduler.LockMaxHold,
	}); err != nil {
		logg.Error(context.Background(), "failed to register outbox retention", err)
		os.Exit(1)
	}

	scheduler, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cronRegistry,
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
			"pubsub":   pubsubClient,
		},
		Gatherer: prometheus.DefaultGatherer,
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
	logg.Info(ctx, "starting outbox publisher")

	sup := supervisor.New(ctx, "outbox-publisher", logg, supervisor.Options{})
	if err := supervisor.Run(ctx, sup, scheduler, ops.NewServer(cfg.Ops.Addr, router, logg)); err != nil {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
