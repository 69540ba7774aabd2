package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/cache"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/database"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/middleware"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

// AssetStore reads assets from the registry
type AssetStore interface {
	LoadAssetFull(ctx context.Context, assetUUID string) (*models.Asset, error)
	Health(ctx context.Context) error
}

// AssetCache is the read-through cache in front of AssetStore
type AssetCache interface {
	GetAsset(ctx context.Context, uuid string) (*models.Asset, error)
	SetAsset(ctx context.Context, asset *models.Asset) error
	GetJobProgress(ctx context.Context, jobID string) (float64, error)
	SetJobProgress(ctx context.Context, jobID string, progress float64, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// JobPublisher enqueues pipeline jobs
type JobPublisher interface {
	PublishJob(ctx context.Context, job *models.PipelineJob) error
}

// HealthReporter summarizes pipeline health
type HealthReporter interface {
	GetSystemHealth() string
	GetAlerts() []string
	GetMetrics() *monitoring.Metrics
	GetWorkerHealth() []*monitoring.WorkerHealth
}

// URLSigner presigns downloads of objects in object storage
type URLSigner interface {
	GetURL(ctx context.Context, objectName string) (string, error)
}

// API serves job submission and asset reads
type API struct {
	assets AssetStore
	cache  AssetCache
	jobs   JobPublisher
	health HealthReporter
	// urls is nil when no object storage is configured
	urls    URLSigner
	enabled []int
	logger  *logging.Logger
}

func setupRouter(api *API, jwtSecret string, limiter *middleware.RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(api.logger))

	// Health check
	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.JWTAuth(jwtSecret), middleware.RateLimit(limiter))
	{
		// Assets
		v1.GET("/assets/:uuid", api.getAsset)

		// Pipeline jobs
		write := v1.Group("", middleware.RequireScope(middleware.ScopePipelineWrite))
		write.POST("/assets/:uuid/optimize", api.createOptimizeJob)
		write.POST("/assets/:uuid/resolutions", api.createResolutionJob)
		write.POST("/assets/:uuid/merge-audio", api.createMergeAudioJob)

		// Progress
		v1.GET("/jobs/:id/progress", api.getJobProgress)
	}

	return router
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.assets.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	if err := api.cache.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	status := monitoring.HealthHealthy
	var alerts []string
	var snapshot *monitoring.Metrics
	var workers []*monitoring.WorkerHealth
	if api.health != nil {
		status = api.health.GetSystemHealth()
		alerts = api.health.GetAlerts()
		snapshot = api.health.GetMetrics()
		workers = api.health.GetWorkerHealth()
	}

	code := http.StatusOK
	if status == monitoring.HealthCritical {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":  status,
		"alerts":  alerts,
		"metrics": snapshot,
		"workers": workers,
	})
}

// loadAsset reads an asset through the cache. Cache failures fall back to
// the registry.
func (api *API) loadAsset(ctx context.Context, assetUUID string) (*models.Asset, error) {
	cached, err := api.cache.GetAsset(ctx, assetUUID)
	if err != nil {
		api.logger.WithAssetID(assetUUID).WithError(err).Warn("asset cache read failed")
		metrics.RecordError("api", "cache")
	}
	if cached != nil {
		metrics.RecordCacheAccess("asset", true)
		return cached, nil
	}
	metrics.RecordCacheAccess("asset", false)

	asset, err := api.assets.LoadAssetFull(ctx, assetUUID)
	if err != nil {
		return nil, err
	}

	if err := api.cache.SetAsset(ctx, asset); err != nil {
		api.logger.WithAssetID(assetUUID).WithError(err).Warn("asset cache write failed")
	}
	return asset, nil
}

// respondAssetError maps registry lookups to status codes
func respondAssetError(c *gin.Context, err error) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Asset not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load asset"})
}

// Get asset endpoint
// assetResponse is an asset with download URLs of its object storage
// variants, keyed by file id
type assetResponse struct {
	*models.Asset
	DownloadURLs map[int64]string `json:"download_urls,omitempty"`
}

func (api *API) getAsset(c *gin.Context) {
	ctx := c.Request.Context()
	asset, err := api.loadAsset(ctx, c.Param("uuid"))
	if err != nil {
		respondAssetError(c, err)
		return
	}

	c.JSON(http.StatusOK, assetResponse{Asset: asset, DownloadURLs: api.downloadURLs(ctx, asset)})
}

// downloadURLs presigns the variants kept in object storage. Files that
// cannot be signed are left out.
func (api *API) downloadURLs(ctx context.Context, asset *models.Asset) map[int64]string {
	if api.urls == nil {
		return nil
	}

	var urls map[int64]string
	for _, file := range asset.Files {
		if file.Storage != models.StorageObjectStore {
			continue
		}
		url, err := api.urls.GetURL(ctx, storage.WebVideoObjectKey(file.Filename))
		if err != nil {
			api.logger.WithAssetID(asset.UUID).WithField("filename", file.Filename).
				WithError(err).Warn("failed to presign variant")
			metrics.RecordError("api", "presign")
			continue
		}
		if urls == nil {
			urls = make(map[int64]string)
		}
		urls[file.ID] = url
	}
	return urls
}

// Create optimize job endpoint
func (api *API) createOptimizeJob(c *gin.Context) {
	var req struct {
		InputFileID    int64 `json:"input_file_id"`
		QuickTranscode bool  `json:"quick_transcode"`
		Priority       int   `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	asset, err := api.assets.LoadAssetFull(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondAssetError(c, err)
		return
	}

	var input *models.VariantFile
	if req.InputFileID == 0 {
		input = asset.MaxQualityFile()
	} else {
		for _, f := range asset.Files {
			if f.ID == req.InputFileID {
				input = f
			}
		}
	}
	if input == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Asset has no such file"})
		return
	}

	api.enqueue(c, &models.PipelineJob{
		Type:           models.JobTypeOptimizeToWebVideo,
		AssetUUID:      asset.UUID,
		InputFileID:    input.ID,
		QuickTranscode: req.QuickTranscode,
		Priority:       req.Priority,
	})
}

// Create new resolution job endpoint
func (api *API) createResolutionJob(c *gin.Context) {
	var req struct {
		Resolution int `json:"resolution" binding:"required"`
		FPS        int `json:"fps"`
		Priority   int `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !api.resolutionEnabled(req.Resolution) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Resolution is not enabled"})
		return
	}
	if req.FPS < 0 || req.FPS > models.FPSMax {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid fps"})
		return
	}

	asset, err := api.assets.LoadAssetFull(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondAssetError(c, err)
		return
	}

	source := asset.MaxQualityFile()
	if source == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Asset has no file to transcode from"})
		return
	}

	fps := req.FPS
	if fps == 0 {
		fps = models.ComputeOutputFPS(source.FPS, req.Resolution)
	}

	api.enqueue(c, &models.PipelineJob{
		Type:       models.JobTypeNewResolutionToWebVideo,
		AssetUUID:  asset.UUID,
		Resolution: req.Resolution,
		FPS:        fps,
		Priority:   req.Priority,
	})
}

// Create merge audio job endpoint
func (api *API) createMergeAudioJob(c *gin.Context) {
	var req struct {
		Resolution int `json:"resolution" binding:"required"`
		Priority   int `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !api.resolutionEnabled(req.Resolution) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Resolution is not enabled"})
		return
	}

	asset, err := api.assets.LoadAssetFull(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondAssetError(c, err)
		return
	}

	if asset.Preview == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Asset has no preview image"})
		return
	}
	if len(asset.Files) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Asset has no audio file"})
		return
	}

	api.enqueue(c, &models.PipelineJob{
		Type:       models.JobTypeMergeAudioToWebVideo,
		AssetUUID:  asset.UUID,
		Resolution: req.Resolution,
		FPS:        models.FPSAudioMerge,
		Priority:   req.Priority,
	})
}

// enqueue publishes job and answers 202 with its handle
func (api *API) enqueue(c *gin.Context, job *models.PipelineJob) {
	job.ID = uuid.NewString()
	job.CreatedAt = time.Now()
	if job.Priority == 0 {
		job.Priority = models.JobPriorityNormal
	}

	ctx := c.Request.Context()
	if err := api.cache.SetJobProgress(ctx, job.ID, 0, cache.ProgressTTL); err != nil {
		api.logger.WithJobID(job.ID).WithError(err).Warn("failed to initialize job progress")
	}

	if err := api.jobs.PublishJob(ctx, job); err != nil {
		api.logger.WithJobID(job.ID).ErrorWithErr("Failed to queue job", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to queue job"})
		return
	}

	metrics.RecordJobCreated(job.Type)
	api.logger.LogJobEvent(job.ID, "queued", "pending", map[string]interface{}{
		"type":       job.Type,
		"asset_uuid": job.AssetUUID,
	})

	c.JSON(http.StatusAccepted, job)
}

// Get job progress endpoint
func (api *API) getJobProgress(c *gin.Context) {
	jobID := c.Param("id")

	progress, err := api.cache.GetJobProgress(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read progress"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "progress": progress})
}

func (api *API) resolutionEnabled(resolution int) bool {
	for _, r := range api.enabled {
		if r == resolution {
			return true
		}
	}
	return false
}
