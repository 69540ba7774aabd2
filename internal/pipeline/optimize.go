package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/tracing"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

// OptimizeOptions requests re-encoding an uploaded original
type OptimizeOptions struct {
	Asset          *models.Asset
	InputFile      *models.VariantFile
	QuickTranscode bool
	JobID          string
}

// OptimizeOriginal re-encodes the input file into a web playable MP4 at its
// normalized resolution. The input's record is reused for the result and
// its previous bytes are removed once the new ones are published.
func (c *Coordinator) OptimizeOriginal(ctx context.Context, opts OptimizeOptions) (res *Result, err error) {
	const op = "optimize-original"
	assetUUID := opts.Asset.UUID
	start := time.Now()

	span, ctx := tracing.StartAssetSpan(ctx, "pipeline.optimize_original", assetUUID)
	tracing.SetTag(span, "quick_transcode", opts.QuickTranscode)
	defer func() { c.finish(span, op, assetUUID, start, err) }()

	release, err := c.acquire(ctx, op, assetUUID)
	if err != nil {
		return nil, err
	}
	defer release.Release()

	asset, err := c.reload(ctx, op, assetUUID, KindStaging)
	if err != nil {
		return nil, err
	}

	if opts.InputFile == nil {
		return nil, newError(KindStaging, op, assetUUID, fmt.Errorf("no input file given"))
	}
	input, err := c.deps.Registry.LoadVariant(ctx, opts.InputFile.ID)
	if err != nil {
		return nil, newError(KindStaging, op, assetUUID, fmt.Errorf("reload input file: %w", err))
	}
	if input.AssetID != asset.ID {
		return nil, newError(KindStaging, op, assetUUID, fmt.Errorf("file %d does not belong to asset", input.ID))
	}
	previous := *input

	resolution := models.BuildOriginalFileResolution(input.Resolution, c.cfg.Resolutions, c.cfg.AlwaysTranscodeOriginalResolution)
	fps := models.ComputeOutputFPS(input.FPS, resolution)
	filename := models.GenerateWebVideoFilename(resolution, webVideoExtname)
	outputPath := filepath.Join(c.deps.Storage.TmpDir(), fmt.Sprintf("%d-transcoded-%s", asset.ID, filename))

	tracing.SetTag(span, "resolution", resolution)
	tracing.SetTag(span, "fps", fps)

	err = c.stage(ctx, op, asset, input, func(inputPath string) error {
		req := &transcoder.Request{
			Job: transcoder.OptimizeOriginal{
				Quick:      opts.QuickTranscode,
				Resolution: resolution,
				FPS:        fps,
			},
			InputPath:  inputPath,
			OutputPath: outputPath,
			InputLock:  release,
		}
		return c.encode(ctx, op, asset, req, opts.JobID)
	})
	if err != nil {
		return nil, err
	}
	release.Release()

	input.Resolution = resolution
	input.Extname = webVideoExtname
	input.Filename = filename
	input.Storage = models.StorageFileSystem

	return c.Finalize(ctx, FinalizeOptions{
		Asset:      asset,
		File:       input,
		OutputPath: outputPath,
		Supersedes: &previous,
	})
}
