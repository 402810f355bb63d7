package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/varnercrm/engagement-platform/internal/api"
	"github.com/varnercrm/engagement-platform/internal/config"
	"github.com/varnercrm/engagement-platform/internal/engagement"
	"github.com/varnercrm/engagement-platform/internal/messaging/providerclient"
	"github.com/varnercrm/engagement-platform/internal/observability/metrics"
	"github.com/varnercrm/engagement-platform/pkg/logging"
)

func main() {
	// Missing .env is fine in deployed environments.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting engagement worker",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.ProviderAPIKey == "" || cfg.ProviderBaseURL == "" {
		logger.Error("engagement worker requires PROVIDER_BASE_URL and PROVIDER_API_KEY")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store engagement.BlobStore
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, engagement records will not persist", "error", err)
	} else if blob := engagement.NewRedisBlobStore(redisClient); blob != nil {
		store = blob
	}

	cache := engagement.NewCache(store, logger.Component("engagement_cache"))
	if err := cache.LoadAll(ctx); err != nil {
		logger.Warn("failed to warm engagement cache", "error", err)
	} else {
		logger.Info("engagement cache warmed", "records", cache.Len())
	}

	provider, err := providerclient.New(providerclient.Config{
		BaseURL: cfg.ProviderBaseURL,
		APIKey:  cfg.ProviderAPIKey,
		Timeout: cfg.ProviderTimeout,
		Logger:  logger.Logger,
	})
	if err != nil {
		logger.Error("failed to create provider client", "error", err)
		os.Exit(1)
	}

	engagementMetrics := metrics.NewEngagementMetrics(nil)
	counters := engagement.NewActionCounters()
	window := engagement.NewWindowPolicy(cfg.EngagementWindow)

	dispatcher := engagement.NewDispatcher(engagement.DispatcherDeps{
		Cache:         cache,
		Direct:        provider,
		Template:      provider,
		Generic:       engagement.TemplateSenderFunc(provider.SendTemplateGeneric),
		History:       provider,
		Window:        window,
		Catalog:       engagement.DefaultCatalog(cfg.DefaultLanguageCode),
		Counters:      counters,
		Metrics:       engagementMetrics,
		FollowUpDelay: cfg.FollowUpDelay,
		Logger:        logger.Component("dispatcher"),
	})

	scheduler := engagement.NewFollowUpScheduler(cache, window, dispatcher, logger.Component("followups")).
		WithMaxRetries(cfg.FollowUpMaxRetries).
		WithRetryDelay(cfg.FollowUpRetryDelay).
		WithInterval(cfg.SchedulerInterval).
		WithMetrics(engagementMetrics)
	dispatcher.WithFollowUps(scheduler)

	go scheduler.Run(ctx)

	pruner := cron.New()
	if _, err := pruner.AddFunc(cfg.CachePruneSchedule, func() {
		removed := cache.Prune(ctx, time.Now().UTC(), cfg.CachePruneAfter)
		if removed > 0 {
			logger.Info("pruned idle engagement records", "removed", removed)
		}
	}); err != nil {
		logger.Error("invalid prune schedule", "schedule", cfg.CachePruneSchedule, "error", err)
		os.Exit(1)
	}
	pruner.Start()

	stats := engagement.NewStatsAggregator(cache, window, counters)
	handler := api.NewEngagementHandler(dispatcher, stats, nil, logger.Component("api"))
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.New(&api.Config{Logger: logger, Engagement: handler}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down engagement worker")
	cancel()
	<-pruner.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := cache.SaveAll(shutdownCtx); err != nil {
		logger.Error("failed to flush engagement cache", "error", err)
	}
	logger.Info("engagement worker stopped")
}
