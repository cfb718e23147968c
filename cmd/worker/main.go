package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"gifmill/internal/config"
	"gifmill/internal/fetcher"
	"gifmill/internal/jobs"
	"gifmill/internal/media"
	"gifmill/internal/observability"
	"gifmill/internal/pkg/logger"
	"gifmill/internal/pkg/shutdown"
	"gifmill/internal/repositories"
	"gifmill/internal/storage"
	"gifmill/internal/sweeper"
	"gifmill/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "gifmill-worker",
		AddSource:   !cfg.IsProduction(),
	})

	ctx := context.Background()
	// Give in-flight tasks their soft limit to wind down.
	shutdownMgr := shutdown.NewManager(log, cfg.TaskSoftTimeLimit+10*time.Second)
	shutdownMgr.RegisterSimple("farewell", func() { log.Info("gifmill worker stopped") })

	metricsHandler, metricsShutdown, err := observability.InitMetrics()
	if err != nil {
		log.LogFatal("failed to initialize metrics", err)
	}
	shutdownMgr.Register("metrics", metricsShutdown)
	metrics, err := observability.NewMetrics()
	if err != nil {
		log.LogFatal("failed to create metrics instruments", err)
	}

	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		log.LogFatal("invalid Redis URL", err)
	}
	rdb := redis.NewClient(redisOpts)
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}

	store := jobs.NewStore(rdb, cfg.ResultTTL)
	broker := jobs.NewBroker(rdb, cfg.QueueName, store, log)
	orch := jobs.NewOrchestrator(rdb, broker, store, cfg.UploadRoot(), log)
	if err := observability.RegisterQueueDepth(broker.Depth); err != nil {
		log.LogFatal("failed to register queue depth gauge", err)
	}

	metricsStore, err := repositories.Open(ctx, cfg)
	if err != nil {
		log.LogFatal("failed to open metrics store", err)
	}
	shutdownMgr.Register("metrics-store", func(ctx context.Context) error {
		return metricsStore.Close()
	})

	sp, err := storage.NewProvider(ctx, cfg)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}

	tools := media.NewToolRunner(cfg.ToolTimeout, log)
	for _, bin := range []string{"ffmpeg", "ffprobe", "gifsicle", "yt-dlp"} {
		if !tools.Available(bin) {
			log.Warn("external tool not found on PATH", "tool", bin)
		}
	}

	executor := media.NewExecutor(media.Config{
		Root:            cfg.UploadRoot(),
		Budget:          media.Budget{MaxFrames: cfg.MaxGIFFrames, MaxPixels: cfg.MaxGIFPixels},
		AudioMuxTimeout: cfg.AudioMuxTimeout,
		FontDir:         cfg.FontDir,
	}, tools, metricsStore, log)

	f := fetcher.New(fetcher.Options{
		AllowedHosts:      cfg.AllowedURLHosts,
		BlockedVideoHosts: cfg.BlockedVideoHosts,
	}, tools, log)

	if cfg.MetricsAddr != "" {
		r := chi.NewRouter()
		r.Method(http.MethodGet, "/metrics", metricsHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		server := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		}
		shutdownMgr.Register("metrics-server", func(ctx context.Context) error {
			return server.Shutdown(ctx)
		})
		shutdownMgr.Go("metrics-server", func(ctx context.Context) error {
			log.Info("metrics server listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	sw := sweeper.New(cfg.UploadRoot(), cfg.TempFileMaxAge, cfg.TempFileCleanupInterval, log)
	shutdownMgr.Go("sweeper", sw.Run)

	shutdownMgr.Go("worker", func(ctx context.Context) error {
		return worker.Run(ctx, worker.Deps{
			Broker:        broker,
			Orchestrator:  orch,
			Executor:      executor,
			Fetcher:       f,
			SP:            sp,
			Metrics:       metrics,
			Log:           log,
			Concurrency:   cfg.WorkerConcurrency,
			TimeLimit:     cfg.TaskTimeLimit,
			SoftTimeLimit: cfg.TaskSoftTimeLimit,
		})
	})

	log.Info("gifmill worker started",
		"queue", cfg.QueueName,
		"concurrency", cfg.WorkerConcurrency,
		"storage", sp.Provider(),
	)
	if err := shutdownMgr.Wait(); err != nil {
		log.LogFatal("worker stopped with error", err)
	}
}
