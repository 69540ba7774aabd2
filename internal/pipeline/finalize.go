package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/tracing"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

// FinalizeOptions describes a freshly produced output to publish
type FinalizeOptions struct {
	Asset *models.Asset
	// File is the record to publish, new or reused. Its Resolution,
	// Extname and Filename must already describe the output.
	File       *models.VariantFile
	OutputPath string
	// WasAudioFile schedules storyboard generation once published
	WasAudioFile bool
	// Supersedes is the previous state of a reused record. Its bytes are
	// removed once the new state is committed.
	Supersedes *models.VariantFile
	// UpdateDuration sets the asset duration from the output before the
	// variant is registered
	UpdateDuration bool
}

// Finalize installs the output at its permanent location and registers it
// as the asset's variant for its (resolution, fps), replacing any existing
// one. It runs under its own acquisition of the asset lock.
func (c *Coordinator) Finalize(ctx context.Context, opts FinalizeOptions) (res *Result, err error) {
	const op = "finalize"
	assetUUID := opts.Asset.UUID
	start := time.Now()

	span, ctx := tracing.StartAssetSpan(ctx, "pipeline.finalize", assetUUID)
	defer func() { c.finish(span, op, assetUUID, start, err) }()

	release, err := c.acquire(ctx, op, assetUUID)
	if err != nil {
		return nil, err
	}
	defer release.Release()

	fail := func(format string, args ...interface{}) error {
		return newError(KindFinalizeIO, op, assetUUID, fmt.Errorf(format, args...))
	}

	// The asset may have changed while the lock was not held
	asset, err := c.reload(ctx, op, assetUUID, KindFinalizeIO)
	if err != nil {
		return nil, err
	}

	file := opts.File
	file.AssetID = asset.ID
	permanentPath := c.deps.Storage.WebVideoPath(asset, file)

	stats, err := os.Stat(opts.OutputPath)
	if err != nil {
		return nil, fail("stat output: %w", err)
	}

	probe, err := c.deps.Prober.Probe(ctx, opts.OutputPath)
	if err != nil {
		return nil, fail("probe output: %w", err)
	}

	if opts.UpdateDuration {
		if err := c.deps.Registry.SaveAssetDuration(ctx, asset.ID, probe.Duration); err != nil {
			return nil, fail("save duration: %w", err)
		}
		asset.Duration = probe.Duration
		c.invalidate(ctx, asset.UUID)
	}

	if err := storage.MoveFile(opts.OutputPath, permanentPath); err != nil {
		return nil, fail("move output: %w", err)
	}

	file.Size = stats.Size()
	file.FPS = probe.FPS
	file.Metadata = probe.Metadata
	file.Storage = models.StorageFileSystem

	if err := c.deps.Descriptor.Create(ctx, asset, file, permanentPath); err != nil {
		return nil, fail("create descriptor: %w", err)
	}

	old, err := c.deps.Registry.LookupWebVariant(ctx, asset.ID, file.FPS, file.Resolution)
	if err != nil {
		return nil, fail("lookup existing variant: %w", err)
	}

	if err := c.deps.Registry.ReplaceWebVariant(ctx, old, file); err != nil {
		return nil, fail("register variant: %w", err)
	}

	// Registry now points at the new bytes; drop the ones nothing references
	c.removeUnreferenced(ctx, asset, file, old, opts.Supersedes)

	files, err := c.deps.Registry.ListVariants(ctx, asset.ID)
	if err != nil {
		return nil, fail("refresh variants: %w", err)
	}
	asset.Files = files

	if opts.WasAudioFile {
		job := &models.FollowOnJob{
			Type:      models.JobTypeGenerateStoryboard,
			AssetUUID: asset.UUID,
			Federate:  false,
		}
		if err := c.deps.Dispatcher.Dispatch(ctx, job); err != nil {
			return nil, fail("dispatch %s: %w", job.Type, err)
		}
	}

	c.invalidate(ctx, asset.UUID)
	metrics.RecordVariantPublished(resolutionLabel(file.Resolution), old != nil)
	metrics.RecordStageDuration(op, "publish", time.Since(start).Seconds())

	c.logger.LogPipelineEvent(op, asset.UUID, "published", map[string]interface{}{
		"file_id":    file.ID,
		"resolution": file.Resolution,
		"fps":        file.FPS,
		"size":       file.Size,
		"replaced":   old != nil,
	})

	return &Result{Asset: asset, File: file}, nil
}

// removeUnreferenced deletes the bytes of a replaced variant and of the
// previous state of a reused record. Failures are logged: the registry is
// already consistent and the leftovers are only wasted space.
func (c *Coordinator) removeUnreferenced(ctx context.Context, asset *models.Asset, published *models.VariantFile, candidates ...*models.VariantFile) {
	removed := make(map[string]bool)

	for _, stale := range candidates {
		if stale == nil || sameLocation(stale, published) {
			continue
		}

		key := stale.Storage.String() + ":" + stale.Filename
		if removed[key] {
			continue
		}
		removed[key] = true

		if err := c.deps.Storage.RemoveWebVideo(ctx, asset, stale); err != nil {
			c.logger.WithAssetID(asset.UUID).WithField("filename", stale.Filename).
				ErrorWithErr("Failed to remove superseded variant", err)
			metrics.RecordError("pipeline", "cleanup")
		}
	}
}

func sameLocation(a, b *models.VariantFile) bool {
	return a.Storage == b.Storage && a.Filename == b.Filename
}
