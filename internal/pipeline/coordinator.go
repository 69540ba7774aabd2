// Package pipeline coordinates producing and publishing web video
// variants: optimizing an uploaded original, adding a resolution, and
// turning an audio upload into a video over its preview image.
//
// Every producer operation holds the asset's exclusive lock while it reads
// inputs and encodes. Publishing (Finalize) takes the lock again on its own
// and reloads the asset, since other operations may run in between.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/lock"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/tracing"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

// webVideoExtname is the container every produced variant uses
const webVideoExtname = ".mp4"

// Locker hands out per-asset exclusive locks
type Locker interface {
	Lock(ctx context.Context, key string) (*lock.Releaser, error)
}

// Storage resolves where variant bytes live and makes them readable
type Storage interface {
	MakeAvailable(ctx context.Context, asset *models.Asset, file *models.VariantFile, fn func(path string) error) error
	WebVideoPath(asset *models.Asset, file *models.VariantFile) string
	PreviewPath(asset *models.Asset) (string, error)
	RemoveWebVideo(ctx context.Context, asset *models.Asset, file *models.VariantFile) error
	TmpDir() string
}

// Encoder runs one encode job to completion
type Encoder interface {
	Encode(ctx context.Context, req *transcoder.Request) error
}

// Prober reads duration, frame rate and container metadata of a file
type Prober interface {
	Probe(ctx context.Context, path string) (*transcoder.ProbeResult, error)
}

// Registry is the persistent record of assets and their variants
type Registry interface {
	LoadAssetFull(ctx context.Context, assetUUID string) (*models.Asset, error)
	LoadVariant(ctx context.Context, id int64) (*models.VariantFile, error)
	SaveAssetDuration(ctx context.Context, assetID int64, duration float64) error
	LookupWebVariant(ctx context.Context, assetID int64, fps, resolution int) (*models.VariantFile, error)
	// ReplaceWebVariant removes old (if any) and upserts file as one step
	ReplaceWebVariant(ctx context.Context, old, file *models.VariantFile) error
	ListVariants(ctx context.Context, assetID int64) ([]*models.VariantFile, error)
}

// Descriptor attaches a content-addressing descriptor to a published file
type Descriptor interface {
	Create(ctx context.Context, asset *models.Asset, file *models.VariantFile, path string) error
}

// Dispatcher schedules follow-on jobs without waiting for them
type Dispatcher interface {
	Dispatch(ctx context.Context, job *models.FollowOnJob) error
}

// AssetCache is told when an asset's published state changed
type AssetCache interface {
	InvalidateAsset(ctx context.Context, assetUUID string) error
}

// ProgressReporter receives encode progress for a job handle
type ProgressReporter interface {
	ReportProgress(ctx context.Context, jobID string, progress float64) error
}

// Deps are the coordinator's collaborators. Cache and Progress are optional.
type Deps struct {
	Locker     Locker
	Storage    Storage
	Encoder    Encoder
	Prober     Prober
	Registry   Registry
	Descriptor Descriptor
	Dispatcher Dispatcher
	Cache      AssetCache
	Progress   ProgressReporter
}

// Config holds the resolution policy
type Config struct {
	// Resolutions enabled for web variants
	Resolutions                       []int
	AlwaysTranscodeOriginalResolution bool
}

// Result is the asset with its refreshed variants and the published file
type Result struct {
	Asset *models.Asset
	File  *models.VariantFile
}

// Coordinator runs the producer operations and the publish protocol
type Coordinator struct {
	deps   Deps
	cfg    Config
	logger *logging.Logger
}

// New creates a Coordinator
func New(deps Deps, cfg Config, logger *logging.Logger) (*Coordinator, error) {
	required := map[string]interface{}{
		"locker":     deps.Locker,
		"storage":    deps.Storage,
		"encoder":    deps.Encoder,
		"prober":     deps.Prober,
		"registry":   deps.Registry,
		"descriptor": deps.Descriptor,
		"dispatcher": deps.Dispatcher,
	}
	for name, dep := range required {
		if dep == nil {
			return nil, fmt.Errorf("pipeline: %s is required", name)
		}
	}

	if logger == nil {
		logger = logging.Nop()
	}

	return &Coordinator{deps: deps, cfg: cfg, logger: logger}, nil
}

// acquire takes the asset lock. Any failure to get it is a lock timeout.
func (c *Coordinator) acquire(ctx context.Context, op, assetUUID string) (*lock.Releaser, error) {
	start := time.Now()
	release, err := c.deps.Locker.Lock(ctx, assetUUID)
	metrics.RecordStageDuration(op, "lock_wait", time.Since(start).Seconds())
	if err != nil {
		return nil, &Error{Kind: KindLockTimeout, Op: op, AssetUUID: assetUUID, Err: err}
	}
	return release, nil
}

// stage runs fn with a locally readable copy of file
func (c *Coordinator) stage(ctx context.Context, op string, asset *models.Asset, file *models.VariantFile, fn func(path string) error) error {
	err := c.deps.Storage.MakeAvailable(ctx, asset, file, fn)
	if err != nil {
		return newError(KindStaging, op, asset.UUID, err)
	}
	return nil
}

// encode invokes the engine. A failed encode leaves no output behind.
func (c *Coordinator) encode(ctx context.Context, op string, asset *models.Asset, req *transcoder.Request, jobID string) error {
	if c.deps.Progress != nil && jobID != "" {
		log := c.logger.WithJobID(jobID)
		req.Progress = func(progress float64) {
			log.LogTranscodingProgress(jobID, progress)
			if err := c.deps.Progress.ReportProgress(ctx, jobID, progress); err != nil {
				log.WithError(err).Debug("failed to report progress")
			}
		}
	}

	resolution, fps := req.Job.Target()
	c.logger.LogPipelineEvent(op, asset.UUID, "encode_started", map[string]interface{}{
		"kind":       string(req.Job.Kind()),
		"resolution": resolution,
		"fps":        fps,
	})

	start := time.Now()
	err := c.deps.Encoder.Encode(ctx, req)
	metrics.RecordStageDuration(op, "encode", time.Since(start).Seconds())

	if err != nil {
		if rmErr := storage.RemoveIfExists(req.OutputPath); rmErr != nil {
			c.logger.WithField("path", req.OutputPath).ErrorWithErr("Failed to remove partial output", rmErr)
		}
		return newError(KindEncode, op, asset.UUID, err)
	}

	return nil
}

// reload fetches the current state of an asset after a lock was acquired
func (c *Coordinator) reload(ctx context.Context, op, assetUUID string, kind Kind) (*models.Asset, error) {
	asset, err := c.deps.Registry.LoadAssetFull(ctx, assetUUID)
	if err != nil {
		return nil, newError(kind, op, assetUUID, fmt.Errorf("reload asset: %w", err))
	}
	return asset, nil
}

func (c *Coordinator) invalidate(ctx context.Context, assetUUID string) {
	if c.deps.Cache == nil {
		return
	}
	if err := c.deps.Cache.InvalidateAsset(ctx, assetUUID); err != nil {
		c.logger.WithAssetID(assetUUID).WithError(err).Warn("failed to invalidate cached asset")
	}
}

// finish records the outcome of an operation on its span, metrics and log
func (c *Coordinator) finish(span opentracing.Span, op, assetUUID string, start time.Time, err error) {
	defer tracing.FinishSpan(span)

	status := "success"
	if err != nil {
		status = "unknown"
		if kind := KindOf(err); kind != 0 {
			status = kind.String()
		}
		tracing.LogError(span, err)
		metrics.RecordError("pipeline", status)
	}
	metrics.RecordPipelineOperation(op, status)

	details := map[string]interface{}{
		"duration_ms": time.Since(start).Milliseconds(),
		"status":      status,
	}
	if err != nil {
		details["error"] = err.Error()
	}
	c.logger.LogPipelineEvent(op, assetUUID, "finished", details)
}

func resolutionLabel(resolution int) string {
	return strconv.Itoa(resolution)
}
