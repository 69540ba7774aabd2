package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/cache"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/database"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/lock"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/queue"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/swarm"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/tracing"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/worker"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}
	logger = logger.WithField("service", "worker").WithWorkerID(workerID)

	_, closer, err := tracing.InitTracer(cfg.Tracing.Enabled, cfg.Tracing.ServiceName+"-worker", cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	repo := database.NewRepository(db, logger)

	// Initialize cache
	assetCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer assetCache.Close()
	assetCache.WithAssetTTL(cfg.Redis.AssetTTL)

	locker := newLocker(cfg.Lock, assetCache, logger)

	// Initialize storage
	var objects storage.ObjectStore
	if cfg.Storage.Endpoint != "" {
		stor, err := storage.New(cfg.Storage, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize storage: %v", err)
		}
		objects = stor
	}

	paths := storage.NewPathManager(storage.Dirs{
		WebVideos: cfg.Storage.WebVideosDir,
		Previews:  cfg.Storage.PreviewsDir,
		Torrents:  cfg.Storage.TorrentsDir,
		Tmp:       cfg.Transcoder.TempDir,
	}, objects, logger)
	if err := paths.EnsureDirs(); err != nil {
		logger.Fatalf("Failed to prepare directories: %v", err)
	}

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	ffmpeg := transcoder.NewFFmpeg(cfg.Transcoder, logger)

	coordinator, err := pipeline.New(pipeline.Deps{
		Locker:   locker,
		Storage:  paths,
		Encoder:  ffmpeg,
		Prober:   ffmpeg,
		Registry: repo,
		Descriptor: swarm.NewGenerator(swarm.Options{
			Dir:         cfg.Storage.TorrentsDir,
			PieceLength: cfg.Transcoder.TorrentPieceLength,
			Trackers:    cfg.Transcoder.Trackers,
			WebSeedBase: cfg.Transcoder.WebSeedBaseURL,
		}, logger),
		Dispatcher: q,
		Cache:      assetCache,
		Progress:   assetCache,
	}, pipeline.Config{
		Resolutions:                       cfg.Transcoder.Resolutions,
		AlwaysTranscodeOriginalResolution: cfg.Transcoder.AlwaysTranscodeOriginalResolution,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to create pipeline: %v", err)
	}

	monitor := monitoring.NewMonitor(q, logger).WithInterval(cfg.Metrics.MonitorInterval)
	monitor.RegisterWorkerHeartbeat(workerID, "")
	monitor.Start(ctx)
	monitor.PublishHeartbeats(ctx, assetCache)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server stopped", err)
			}
		}()
	}

	handler := worker.NewHandler(workerID, coordinator, repo, monitor, logger)

	// Start consuming jobs
	logger.Infof("Worker started with %d slots, waiting for jobs...", cfg.Transcoder.WorkerCount)
	if err := q.ConsumeJobs(ctx, cfg.Transcoder.WorkerCount, handler.Handle); err != nil {
		logger.Fatalf("Failed to consume jobs: %v", err)
	}

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down worker gracefully...")
	cancel()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorWithErr("Metrics server forced to shutdown", err)
		}
	}

	logger.Info("Worker stopped")
}

// newLocker picks the asset lock backend. Redis locks are needed once
// several worker processes share the same storage.
func newLocker(cfg config.LockConfig, c *cache.Cache, logger *logging.Logger) pipeline.Locker {
	if cfg.Backend == "redis" {
		return lock.NewRedisLocker(c.Client(), lock.RedisOptions{
			TTL:          cfg.TTL,
			Timeout:      cfg.Timeout,
			PollInterval: cfg.PollInterval,
		}, logger)
	}
	return lock.NewKeyedMutex(cfg.Timeout)
}
