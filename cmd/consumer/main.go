package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/config"
	"github.com/BarkinBalci/livespot-engine/internal/consumer"
	"github.com/BarkinBalci/livespot-engine/internal/logger"
	"github.com/BarkinBalci/livespot-engine/internal/queue/sqs"
	"github.com/BarkinBalci/livespot-engine/internal/repository/clickhouse"
	"github.com/BarkinBalci/livespot-engine/internal/stream"
	"github.com/BarkinBalci/livespot-engine/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Service.Environment, "consumer")
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting consumer service",
		zap.String("environment", cfg.Service.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Service.Environment, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Error("Failed to flush traces", zap.Error(err))
		}
	}()

	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func() {
		if err := chClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	repo := clickhouse.NewRepository(chClient, log)
	if err := repo.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}
	log.Info("Database schema initialized")

	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	// Persisted events are pushed to the API instances over Redis pub/sub
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error("Failed to close Redis client", zap.Error(err))
		}
	}()
	forwarder := stream.NewPublisher(rdb, cfg.Redis.EventChannel, log.Named("publisher"))

	c := consumer.NewConsumer(cfg, sqsClient, repo, forwarder, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := repo.Ping(r.Context()); err != nil {
			log.Warn("Health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	health := &http.Server{Addr: ":" + cfg.Consumer.HealthCheckPort, Handler: mux}

	go func() {
		log.Info("Health check server starting", zap.String("address", health.Addr))
		if err := health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Health check server error", zap.Error(err))
		}
	}()

	log.Info("Consumer starting")
	if err := c.Start(ctx); err != nil {
		log.Error("Consumer error", zap.Error(err))
	}

	log.Info("Shutting down consumer gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to stop health check server", zap.Error(err))
	}
}
