package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/tracing"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

// MergeAudioOptions requests a video made from an audio upload and the
// asset's preview image
type MergeAudioOptions struct {
	Asset      *models.Asset
	Resolution int
	FPS        int
	JobID      string
}

// MergeAudioImage encodes the asset's lowest quality file, used as the
// audio track, over a snapshot of its preview image. The audio file's
// record is reused for the video and the asset duration is updated from
// the produced output.
func (c *Coordinator) MergeAudioImage(ctx context.Context, opts MergeAudioOptions) (res *Result, err error) {
	const op = "merge-audio-image"
	assetUUID := opts.Asset.UUID
	start := time.Now()

	span, ctx := tracing.StartAssetSpan(ctx, "pipeline.merge_audio_image", assetUUID)
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

	input := asset.MinQualityFile()
	if input == nil {
		return nil, newError(KindStaging, op, assetUUID, fmt.Errorf("asset has no audio file"))
	}
	previous := *input

	previewPath, err := c.deps.Storage.PreviewPath(asset)
	if err != nil {
		return nil, newError(KindStaging, op, assetUUID, err)
	}

	filename := models.GenerateWebVideoFilename(opts.Resolution, webVideoExtname)
	outputPath := filepath.Join(c.deps.Storage.TmpDir(), fmt.Sprintf("%d-transcoded-%s", asset.ID, filename))

	// The staged audio copy is dropped as soon as the encode ends
	err = c.stage(ctx, op, asset, input, func(audioPath string) error {
		// The preview can be replaced while a long encode runs, so encode
		// from a private snapshot
		snapshot := filepath.Join(c.deps.Storage.TmpDir(), fmt.Sprintf("%s-%s", asset.UUID, filepath.Base(previewPath)))
		return withScratchCopy(previewPath, snapshot, func(imagePath string) error {
			req := &transcoder.Request{
				Job: transcoder.MergeAudio{
					Resolution: opts.Resolution,
					FPS:        opts.FPS,
					AudioPath:  audioPath,
				},
				InputPath:  imagePath,
				OutputPath: outputPath,
				InputLock:  release,
			}
			return c.encode(ctx, op, asset, req, opts.JobID)
		})
	})
	if err != nil {
		return nil, err
	}
	release.Release()

	input.Extname = webVideoExtname
	input.Resolution = opts.Resolution
	input.Filename = filename
	input.Storage = models.StorageFileSystem

	// The merged video can be longer than the audio alone
	return c.Finalize(ctx, FinalizeOptions{
		Asset:          asset,
		File:           input,
		OutputPath:     outputPath,
		WasAudioFile:   true,
		Supersedes:     &previous,
		UpdateDuration: true,
	})
}

// withScratchCopy copies src to dst, runs fn on the copy and removes it on
// every exit path
func withScratchCopy(src, dst string, fn func(path string) error) error {
	if err := storage.CopyFile(src, dst); err != nil {
		storage.RemoveIfExists(dst)
		return fmt.Errorf("snapshot %s: %w", filepath.Base(src), err)
	}
	defer storage.RemoveIfExists(dst)

	return fn(dst)
}
