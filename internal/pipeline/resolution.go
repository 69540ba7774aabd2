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

// NewResolutionOptions requests an additional variant
type NewResolutionOptions struct {
	Asset      *models.Asset
	Resolution int
	FPS        int
	JobID      string
}

// NewResolution encodes the asset's best quality file into a new variant
// at the requested resolution and frame rate. The source file is left
// untouched.
func (c *Coordinator) NewResolution(ctx context.Context, opts NewResolutionOptions) (res *Result, err error) {
	const op = "new-resolution"
	assetUUID := opts.Asset.UUID
	start := time.Now()

	span, ctx := tracing.StartAssetSpan(ctx, "pipeline.new_resolution", assetUUID)
	tracing.SetTag(span, "resolution", opts.Resolution)
	tracing.SetTag(span, "fps", opts.FPS)
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

	input := asset.MaxQualityFile()
	if input == nil {
		return nil, newError(KindStaging, op, assetUUID, fmt.Errorf("asset has no file to transcode from"))
	}

	file := &models.VariantFile{
		AssetID:    asset.ID,
		Resolution: opts.Resolution,
		FPS:        opts.FPS,
		Extname:    webVideoExtname,
		Filename:   models.GenerateWebVideoFilename(opts.Resolution, webVideoExtname),
		Size:       0,
		Storage:    models.StorageFileSystem,
	}
	outputPath := filepath.Join(c.deps.Storage.TmpDir(), file.Filename)

	err = c.stage(ctx, op, asset, input, func(inputPath string) error {
		req := &transcoder.Request{
			Job:        transcoder.NewResolution{Resolution: opts.Resolution, FPS: opts.FPS},
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

	return c.Finalize(ctx, FinalizeOptions{
		Asset:      asset,
		File:       file,
		OutputPath: outputPath,
	})
}
