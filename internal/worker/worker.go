// Package worker turns pipeline jobs taken off the queue into coordinator
// operations.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/database"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/queue"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/tracing"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

// Coordinator runs the pipeline operations
type Coordinator interface {
	OptimizeOriginal(ctx context.Context, opts pipeline.OptimizeOptions) (*pipeline.Result, error)
	NewResolution(ctx context.Context, opts pipeline.NewResolutionOptions) (*pipeline.Result, error)
	MergeAudioImage(ctx context.Context, opts pipeline.MergeAudioOptions) (*pipeline.Result, error)
}

// AssetLoader reads the asset and input file a job refers to
type AssetLoader interface {
	LoadAssetFull(ctx context.Context, assetUUID string) (*models.Asset, error)
	LoadVariant(ctx context.Context, id int64) (*models.VariantFile, error)
}

// Observer is told when jobs start and finish
type Observer interface {
	JobStarted(workerID, jobID string)
	JobFinished(workerID string, duration time.Duration, err error)
}

// Handler routes pipeline jobs to the coordinator
type Handler struct {
	id       string
	coord    Coordinator
	assets   AssetLoader
	observer Observer
	logger   *logging.Logger
}

// NewHandler creates a job handler. observer may be nil.
func NewHandler(id string, coord Coordinator, assets AssetLoader, observer Observer, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{
		id:       id,
		coord:    coord,
		assets:   assets,
		observer: observer,
		logger:   logger.WithWorkerID(id),
	}
}

// Handle runs one job to completion. Jobs that can never succeed are
// reported with queue.ErrPermanent; every other failure is retried by the
// queue by running the whole operation again.
func (h *Handler) Handle(ctx context.Context, job *models.PipelineJob) (err error) {
	start := time.Now()
	log := h.logger.WithJobID(job.ID).WithAssetID(job.AssetUUID)

	span, ctx := tracing.StartAssetSpan(ctx, "worker.handle", job.AssetUUID)
	tracing.SetTag(span, "job.id", job.ID)
	tracing.SetTag(span, "job.type", job.Type)
	defer tracing.FinishSpan(span)

	metrics.JobsInProgress.Inc()
	metrics.WorkerActive.Inc()
	if h.observer != nil {
		h.observer.JobStarted(h.id, job.ID)
	}

	log.LogJobEvent(job.ID, "started", "processing", map[string]interface{}{"type": job.Type})

	defer func() {
		duration := time.Since(start)
		metrics.JobsInProgress.Dec()
		metrics.WorkerActive.Dec()

		status := "completed"
		if err != nil {
			status = "failed"
			tracing.LogError(span, err)
		}
		metrics.RecordJobCompleted(job.Type, status, duration.Seconds())
		if h.observer != nil {
			h.observer.JobFinished(h.id, duration, err)
		}

		details := map[string]interface{}{"duration_ms": duration.Milliseconds()}
		if err != nil {
			details["error"] = err.Error()
		}
		log.LogJobEvent(job.ID, "finished", status, details)
	}()

	res, err := h.route(ctx, job)
	if err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"file_id":    res.File.ID,
		"resolution": res.File.Resolution,
		"fps":        res.File.FPS,
	}).Info("Variant published")

	return nil
}

func (h *Handler) route(ctx context.Context, job *models.PipelineJob) (*pipeline.Result, error) {
	asset, err := h.assets.LoadAssetFull(ctx, job.AssetUUID)
	if err != nil {
		return nil, loadError("asset "+job.AssetUUID, err)
	}

	switch job.Type {
	case models.JobTypeOptimizeToWebVideo:
		input, err := h.assets.LoadVariant(ctx, job.InputFileID)
		if err != nil {
			return nil, loadError(fmt.Sprintf("input file %d", job.InputFileID), err)
		}
		return h.coord.OptimizeOriginal(ctx, pipeline.OptimizeOptions{
			Asset:          asset,
			InputFile:      input,
			QuickTranscode: job.QuickTranscode,
			JobID:          job.ID,
		})

	case models.JobTypeNewResolutionToWebVideo:
		if err := checkTarget(job.Resolution, job.FPS); err != nil {
			return nil, err
		}
		return h.coord.NewResolution(ctx, pipeline.NewResolutionOptions{
			Asset:      asset,
			Resolution: job.Resolution,
			FPS:        job.FPS,
			JobID:      job.ID,
		})

	case models.JobTypeMergeAudioToWebVideo:
		fps := job.FPS
		if fps == 0 {
			fps = models.FPSAudioMerge
		}
		if err := checkTarget(job.Resolution, fps); err != nil {
			return nil, err
		}
		return h.coord.MergeAudioImage(ctx, pipeline.MergeAudioOptions{
			Asset:      asset,
			Resolution: job.Resolution,
			FPS:        fps,
			JobID:      job.ID,
		})

	default:
		return nil, fmt.Errorf("%w: unknown job type %q", queue.ErrPermanent, job.Type)
	}
}

// checkTarget rejects targets no encode can satisfy, so they are not retried
func checkTarget(resolution, fps int) error {
	if resolution <= 0 {
		return fmt.Errorf("%w: resolution must be positive, got %d", queue.ErrPermanent, resolution)
	}
	if fps <= 0 {
		return fmt.Errorf("%w: fps must be positive, got %d", queue.ErrPermanent, fps)
	}
	return nil
}

// loadError marks lookups of deleted records as permanent
func loadError(what string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %s: %v", queue.ErrPermanent, what, err)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
