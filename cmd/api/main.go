package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"gifmill/internal/config"
	"gifmill/internal/fetcher"
	"gifmill/internal/geoip"
	"gifmill/internal/httpapi"
	"gifmill/internal/httpapi/handlers"
	"gifmill/internal/jobs"
	"gifmill/internal/media"
	"gifmill/internal/observability"
	"gifmill/internal/pkg/logger"
	"gifmill/internal/pkg/shutdown"
	"gifmill/internal/ports"
	"gifmill/internal/repositories"
	"gifmill/internal/status"
	"gifmill/internal/storage"
)

var version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "gifmill-api",
		AddSource:   !cfg.IsProduction(),
	})

	log.Info("starting gifmill API",
		"version", version,
		"env", cfg.Env,
	)

	ctx := context.Background()

	// Initialize shutdown manager
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)
	shutdownMgr.RegisterSimple("farewell", func() { log.Info("gifmill API stopped") })

	// Metrics exporter
	metricsHandler, metricsShutdown, err := observability.InitMetrics()
	if err != nil {
		log.LogFatal("failed to initialize metrics", err)
	}
	shutdownMgr.Register("metrics", metricsShutdown)
	metrics, err := observability.NewMetrics()
	if err != nil {
		log.LogFatal("failed to create metrics instruments", err)
	}

	// Connect to Redis
	log.Info("connecting to Redis")
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		log.LogFatal("invalid Redis URL", err)
	}
	rdb := redis.NewClient(redisOpts)
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})

	// Verify Redis connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}
	log.Info("Redis connected", "queue", cfg.QueueName)

	store := jobs.NewStore(rdb, cfg.ResultTTL)
	broker := jobs.NewBroker(rdb, cfg.QueueName, store, log)
	orch := jobs.NewOrchestrator(rdb, broker, store, cfg.UploadRoot(), log)
	if err := observability.RegisterQueueDepth(broker.Depth); err != nil {
		log.LogFatal("failed to register queue depth gauge", err)
	}

	// Metrics store
	log.Info("opening metrics store", "driver", cfg.MetricsDriver)
	metricsStore, err := repositories.Open(ctx, cfg)
	if err != nil {
		log.LogFatal("failed to open metrics store", err)
	}
	shutdownMgr.Register("metrics-store", func(ctx context.Context) error {
		return metricsStore.Close()
	})

	var geo ports.CountryResolver
	if cfg.GeoIPDBPath != "" {
		resolver, err := geoip.Open(cfg.GeoIPDBPath)
		if err != nil {
			log.Warn("GeoIP database unavailable, country lookups disabled", "path", cfg.GeoIPDBPath, "error", err.Error())
		} else {
			geo = resolver
			shutdownMgr.Register("geoip", func(ctx context.Context) error {
				return resolver.Close()
			})
		}
	}

	// Initialize storage provider
	log.Info("initializing storage provider")
	sp, err := storage.NewProvider(ctx, cfg)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	f := fetcher.New(fetcher.Options{
		AllowedHosts:      cfg.AllowedURLHosts,
		BlockedVideoHosts: cfg.BlockedVideoHosts,
	}, media.NewToolRunner(cfg.ToolTimeout, log), log)

	// Create HTTP router
	deps := httpapi.Deps{
		Handlers: handlers.Deps{
			Orchestrator:     orch,
			Resolver:         status.NewResolver(store, log),
			Fetcher:          f,
			Queue:            broker,
			Store:            metricsStore,
			SP:               sp,
			Metrics:          metrics,
			Root:             cfg.UploadRoot(),
			MaxContentLength: cfg.MaxContentLength.Int64(),
			Version:          version,
			Log:              log,
		},
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxBodyBytes:       cfg.MaxContentLength.Int64(),
		RequestTimeout:     cfg.RequestTimeout,
		RequestLogs:        metricsStore,
		Geo:                geo,
		RequestLogPrefix:   cfg.RequestLogPrefix,
		MetricsHandler:     metricsHandler,
		Log:                log,
	}
	router := httpapi.NewRouter(deps)

	// Create HTTP server
	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Register server shutdown
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	shutdownMgr.Go("http-server", func(ctx context.Context) error {
		log.Info("HTTP server listening",
			"addr", server.Addr,
			"port", cfg.HTTPPort,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for shutdown signal
	if err := shutdownMgr.Wait(); err != nil {
		log.LogFatal("API stopped with error", err)
	}
}
