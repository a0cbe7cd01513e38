package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/thejerf/suture/v4"

	"github.com/angelmondragon/boardfeed-backend/internal/consumer"
	"github.com/angelmondragon/boardfeed-backend/internal/events"
	"github.com/angelmondragon/boardfeed-backend/internal/readmodel/handlers"
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
	"github.com/angelmondragon/boardfeed-backend/pkg/pubsub"
	"github.com/angelmondragon/boardfeed-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	subscriptions := pubsub.SubscriptionNames(cfg.PubSub)
	if len(subscriptions) == 0 {
		logg.Error(context.Background(), "no read-model subscription configured", nil)
		os.Exit(1)
	}

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

	status := outbox.NewStatusRepository(dbClient.DB())
	guard, err := idempotency.NewManager(redisClient, status, cfg.Eventing.IdempotencyTTL, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build idempotency manager", err)
		os.Exit(1)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)
	decoder := events.NewDecoder()

	services := make([]suture.Service, 0, len(subscriptions)+1)
	for _, name := range subscriptions {
		c, err := consumer.New(consumer.Params{
			Name:           name,
			Subscription:   pubsubClient.Subscription(name),
			Decoder:        decoder,
			Dispatcher:     eventRegistry,
			Idempotency:    guard,
			Status:         status,
			Logger:         logg,
			Metrics:        pipelineMetrics,
			HandlerTimeout: cfg.Eventing.HandlerTimeout,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to build consumer "+name, err)
			os.Exit(1)
		}
		services = append(services, c)
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
	services = append(services, ops.NewServer(cfg.Ops.Addr, router, logg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":           cfg.App.Env,
		"serviceKind":   cfg.Service.Kind,
		"instance":      instance.GetID(),
		"subscriptions": subscriptions,
	})
	logg.Info(ctx, "starting read-model worker")

	sup := supervisor.New(ctx, "worker", logg, supervisor.Options{})
	if err := supervisor.Run(ctx, sup, services...); err != nil {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
