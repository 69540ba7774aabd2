package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/cache"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/database"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/middleware"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/queue"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/tracing"
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
	logger = logger.WithField("service", "api")

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("auth.jwtSecret must be set")
	}

	_, closer, err := tracing.InitTracer(cfg.Tracing.Enabled, cfg.Tracing.ServiceName+"-api", cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer closer.Close()

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db, logger)

	// Initialize cache
	assetCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer assetCache.Close()
	assetCache.WithAssetTTL(cfg.Redis.AssetTTL)

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := monitoring.NewMonitor(q, logger).WithInterval(cfg.Metrics.MonitorInterval)
	monitor.Start(ctx)
	monitor.CollectHeartbeats(ctx, assetCache)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server stopped", err)
			}
		}()
	}

	var urls URLSigner
	if cfg.Storage.Endpoint != "" {
		stor, err := storage.New(cfg.Storage, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize storage: %v", err)
		}
		urls = stor
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go limiter.Cleanup(ctx)

	api := &API{
		assets:  repo,
		cache:   assetCache,
		jobs:    q,
		health:  monitor,
		urls:    urls,
		enabled: cfg.Transcoder.Resolutions,
		logger:  logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api, cfg.Auth.JWTSecret, limiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorWithErr("Metrics server forced to shutdown", err)
		}
	}

	logger.Info("Server stopped")
}
