package transcoder

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/lock"
)

// Kind names the encoding profile a job runs with
type Kind string

const (
	// KindQuickTranscode remuxes the original, copying compatible streams
	KindQuickTranscode Kind = "quick-transcode"
	// KindFullTranscode re-encodes the original into the web profile
	KindFullTranscode Kind = "full-transcode"
	// KindResolutionChange encodes an existing variant at another scale
	KindResolutionChange Kind = "resolution-change"
	// KindMergeAudioImage loops a still image over an audio track
	KindMergeAudioImage Kind = "merge-audio-image"
)

// Job is a closed set of encode descriptors: OptimizeOriginal,
// NewResolution and MergeAudio.
type Job interface {
	Kind() Kind
	Target() (resolution, fps int)
	isJob()
}

// OptimizeOriginal re-encodes the original upload at its normalized
// resolution. Quick selects the stream-copy profile.
type OptimizeOriginal struct {
	Quick      bool
	Resolution int
	FPS        int
}

func (j OptimizeOriginal) Kind() Kind {
	if j.Quick {
		return KindQuickTranscode
	}
	return KindFullTranscode
}

func (j OptimizeOriginal) Target() (int, int) { return j.Resolution, j.FPS }
func (OptimizeOriginal) isJob()               {}

// NewResolution produces an additional, usually lower, rung of the ladder
type NewResolution struct {
	Resolution int
	FPS        int
}

func (NewResolution) Kind() Kind           { return KindResolutionChange }
func (j NewResolution) Target() (int, int) { return j.Resolution, j.FPS }
func (NewResolution) isJob()               {}

// MergeAudio loops a still image over an audio track. The request's
// InputPath is the image.
type MergeAudio struct {
	Resolution int
	FPS        int
	AudioPath  string
}

func (MergeAudio) Kind() Kind           { return KindMergeAudioImage }
func (j MergeAudio) Target() (int, int) { return j.Resolution, j.FPS }
func (MergeAudio) isJob()               {}

// Request is one engine invocation
type Request struct {
	Job        Job
	InputPath  string
	OutputPath string

	// InputLock is the caller's asset lock. The engine releases it once
	// ffmpeg has exited and no longer reads the inputs; the caller may
	// release it again safely.
	InputLock *lock.Releaser

	// Progress receives percentages in [0, 100]. Optional.
	Progress func(progress float64)
}

// Validate checks the request before a process is spawned
func (r *Request) Validate() error {
	if r.Job == nil {
		return fmt.Errorf("encode request has no job")
	}
	if r.InputPath == "" || r.OutputPath == "" {
		return fmt.Errorf("encode request needs input and output paths")
	}
	if r.InputPath == r.OutputPath {
		return fmt.Errorf("encode output would overwrite input %s", r.InputPath)
	}

	resolution, fps := r.Job.Target()
	if resolution <= 0 {
		return fmt.Errorf("invalid target resolution %d", resolution)
	}
	if fps <= 0 {
		return fmt.Errorf("invalid target fps %d", fps)
	}

	if m, ok := r.Job.(MergeAudio); ok && m.AudioPath == "" {
		return fmt.Errorf("merge-audio job has no audio path")
	}

	return nil
}
