package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BarkinBalci/livespot-engine/internal/aggregator"
	"github.com/BarkinBalci/livespot-engine/internal/alert"
	"github.com/BarkinBalci/livespot-engine/internal/config"
	"github.com/BarkinBalci/livespot-engine/internal/dispatch"
	"github.com/BarkinBalci/livespot-engine/internal/handler"
	"github.com/BarkinBalci/livespot-engine/internal/insight"
	"github.com/BarkinBalci/livespot-engine/internal/logger"
	"github.com/BarkinBalci/livespot-engine/internal/queue/sqs"
	"github.com/BarkinBalci/livespot-engine/internal/repository"
	"github.com/BarkinBalci/livespot-engine/internal/repository/clickhouse"
	"github.com/BarkinBalci/livespot-engine/internal/repository/memory"
	"github.com/BarkinBalci/livespot-engine/internal/repository/postgres"
	"github.com/BarkinBalci/livespot-engine/internal/scenario"
	"github.com/BarkinBalci/livespot-engine/internal/segment"
	"github.com/BarkinBalci/livespot-engine/internal/service"
	"github.com/BarkinBalci/livespot-engine/internal/session"
	"github.com/BarkinBalci/livespot-engine/internal/stream"
	"github.com/BarkinBalci/livespot-engine/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment, "api")
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting API service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort))

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

	// Initialize ClickHouse client
	clickhouseClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func(clickhouseClient *clickhouse.Client) {
		if err := clickhouseClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}(clickhouseClient)

	events := clickhouse.NewRepository(clickhouseClient, log)
	if err := events.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// Relational state lives in Postgres when configured
	var store repository.Store
	if cfg.Postgres.DSN != "" {
		pg, err := postgres.Open(cfg.Postgres.DSN, log)
		if err != nil {
			log.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer func() {
			if err := pg.Close(); err != nil {
				log.Error("Failed to close Postgres", zap.Error(err))
			}
		}()
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal("Failed to migrate Postgres", zap.Error(err))
		}
		store = pg
	} else {
		log.Warn("POSTGRES_DSN not set, keeping campaign and scenario state in memory")
		store = memory.NewStore()
	}

	// Initialize Redis client
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

	// Initialize SQS client
	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	location, err := time.LoadLocation(cfg.Dispatch.Timezone)
	if err != nil {
		log.Fatal("Failed to load dispatch timezone", zap.Error(err))
	}

	gate := dispatch.NewRedisGate(rdb, "")
	dispatcher := dispatch.NewDispatcher(store, sqsClient, gate, dispatch.Settings{
		DailyLimit:     cfg.Dispatch.DailyLimit,
		Location:       location,
		SendingTimeout: config.Seconds(cfg.Dispatch.SendingTimeoutSec),
		RequireUnlock:  cfg.Dispatch.RequireUnlock,
		TestMode:       cfg.Dispatch.TestMode,
		TestWhitelist:  cfg.Dispatch.TestWhitelist,
	}, log.Named("dispatch"))

	engine := scenario.NewEngine(store, dispatcher, store, store, cfg.Scenario.BatchLimit, log.Named("scenario"))
	dispatcher.Subscribe(engine)

	classifier, err := segment.FromConfig(cfg.Segments.Rules)
	if err != nil {
		log.Fatal("Failed to load segment rules", zap.Error(err))
	}

	feed := alert.NewFeed(time.Hour, nil)
	board := stream.NewLeaderboard(rdb, cfg.Redis.LeaderboardSize)
	listener := service.NewLiveListener(store, alert.NewMatcher(config.Seconds(cfg.Alerts.DisplayWindowSec), nil), feed, engine, board, log.Named("listener"))

	opts := aggregator.Options{
		ReorderWindow: cfg.Realtime.ReorderWindow,
		BucketWidth:   time.Duration(cfg.Realtime.BucketWidthMin) * time.Minute,
		MaxBackfill:   cfg.Realtime.MaxBackfillEvents,
		Lookup:        service.NewHistoryLookup(events),
		Classifier:    classifier,
	}
	registry := aggregator.NewRegistry(opts, cfg.Realtime.InboxSize, events, listener, log.Named("aggregator"))
	defer registry.Shutdown()

	var generator insight.Generator
	if cfg.Insight.Endpoint != "" {
		generator = insight.NewHTTPGenerator(cfg.Insight.Endpoint, config.Seconds(cfg.Insight.TimeoutSec))
	}

	sessionService := service.NewSessionService(service.SessionDeps{
		Sessions:    store,
		AlertRules:  store,
		Events:      events,
		Publisher:   sqsClient,
		Registry:    registry,
		Resolver:    session.NewResolver(time.Duration(cfg.Realtime.LiveGraceMin)*time.Minute, time.Duration(cfg.Realtime.SanityBoundHours)*time.Hour),
		Classifier:  classifier,
		Feed:        feed,
		Listener:    listener,
		Leaderboard: board,
		Enroller:    engine,
		Insight:     generator,
		Options:     opts,
	}, log.Named("sessions"))
	campaignService := service.NewCampaignService(dispatcher, gate, config.Seconds(cfg.Dispatch.UnlockTTLSec), log.Named("campaigns"))
	scenarioService := service.NewScenarioService(engine, log.Named("scenarios"))

	subscriber := stream.NewSubscriber(rdb, cfg.Redis.EventChannel, sessionService, registry, log.Named("subscriber"))
	poller := stream.NewPoller(subscriber, registry, config.Seconds(cfg.Realtime.PollIntervalSec), log.Named("poller"))

	h := handler.NewHandler(sessionService, campaignService, scenarioService, log)
	addr := fmt.Sprintf(":%s", cfg.Service.APIPort)
	server := &http.Server{Addr: addr, Handler: h}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return subscriber.Run(gctx)
	})
	g.Go(func() error {
		poller.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sessionService.RunSweeper(gctx, config.Seconds(cfg.Realtime.PollIntervalSec))
		return nil
	})
	g.Go(func() error {
		dispatcher.RunReaper(gctx, config.Seconds(cfg.Dispatch.ReaperIntervalSec))
		return nil
	})
	g.Go(func() error {
		engine.Run(gctx, config.Seconds(cfg.Scenario.ProcessIntervalSec))
		return nil
	})
	g.Go(func() error {
		log.Info("API server starting", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("Shutting down API server")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("API service stopped with error", zap.Error(err))
	}
}
