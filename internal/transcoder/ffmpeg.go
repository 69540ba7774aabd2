package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
)

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath   string
	ffprobePath  string
	preset       string
	audioBitrate string
	logger       *logging.Logger
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(cfg config.TranscoderConfig, logger *logging.Logger) *FFmpeg {
	if logger == nil {
		logger = logging.Nop()
	}

	f := &FFmpeg{
		ffmpegPath:   cfg.FFmpegPath,
		ffprobePath:  cfg.FFprobePath,
		preset:       cfg.Preset,
		audioBitrate: cfg.AudioBitrate,
		logger:       logger,
	}
	if f.ffmpegPath == "" {
		f.ffmpegPath = "ffmpeg"
	}
	if f.ffprobePath == "" {
		f.ffprobePath = "ffprobe"
	}
	if f.preset == "" {
		f.preset = "veryfast"
	}
	if f.audioBitrate == "" {
		f.audioBitrate = "256k"
	}

	return f
}

var progressRegex = regexp.MustCompile(`out_time_ms=(\d+)`)

// Encode runs one job to completion. The request's InputLock is released as
// soon as ffmpeg exits, successfully or not.
func (f *FFmpeg) Encode(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	args, err := f.buildEncodeArgs(req)
	if err != nil {
		return err
	}

	var totalDuration float64
	if req.Progress != nil {
		totalDuration = f.progressDuration(ctx, req)
	}

	log := f.logger.WithFields(map[string]interface{}{
		"kind":   string(req.Job.Kind()),
		"input":  req.InputPath,
		"output": req.OutputPath,
	})
	log.Debug("starting ffmpeg")

	err = f.run(ctx, args, func(stdout io.Reader) {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if progress, ok := parseProgress(scanner.Text(), totalDuration); ok && req.Progress != nil {
				req.Progress(progress)
			}
		}
	})

	// Inputs are no longer read past this point
	req.InputLock.Release()

	if err != nil {
		log.WithError(err).Warn("ffmpeg failed")
		return err
	}

	if req.Progress != nil {
		req.Progress(100)
	}

	return nil
}

func (f *FFmpeg) run(ctx context.Context, args []string, onStdout func(io.Reader)) error {
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// Drain stdout before Wait closes the pipe
	onStdout(stdout)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, tail(stderrBuf.String(), 2048))
	}

	return nil
}

// progressDuration is the length of the input the progress is measured
// against. Still images carry no duration, so merges use the audio track.
func (f *FFmpeg) progressDuration(ctx context.Context, req *Request) float64 {
	source := req.InputPath
	if m, ok := req.Job.(MergeAudio); ok {
		source = m.AudioPath
	}

	metadata, err := f.ProbeVideo(ctx, source)
	if err != nil {
		f.logger.WithError(err).Debug("progress unavailable, probe failed")
		return 0
	}

	d, _ := strconv.ParseFloat(metadata.Format.Duration, 64)
	return d
}

func (f *FFmpeg) buildEncodeArgs(req *Request) ([]string, error) {
	var args []string

	switch job := req.Job.(type) {
	case OptimizeOriginal:
		if job.Quick {
			args = []string{
				"-i", req.InputPath,
				"-y",
				"-map_metadata", "-1",
				"-c:v", "copy",
				"-c:a", "copy",
			}
		} else {
			args = append([]string{"-i", req.InputPath, "-y"}, f.videoArgs(job.Resolution, job.FPS)...)
			args = append(args, f.audioArgs()...)
		}

	case NewResolution:
		args = append([]string{"-i", req.InputPath, "-y"}, f.videoArgs(job.Resolution, job.FPS)...)
		args = append(args, f.audioArgs()...)

	case MergeAudio:
		args = []string{
			"-loop", "1",
			"-i", req.InputPath,
			"-i", job.AudioPath,
			"-y",
		}
		args = append(args, f.videoArgs(job.Resolution, job.FPS)...)
		args = append(args, "-tune", "stillimage")
		args = append(args, f.audioArgs()...)
		args = append(args, "-shortest")

	default:
		return nil, fmt.Errorf("unsupported encode job %T", req.Job)
	}

	args = append(args,
		"-movflags", "faststart",
		"-progress", "pipe:1",
		req.OutputPath,
	)

	return args, nil
}

func (f *FFmpeg) videoArgs(resolution, fps int) []string {
	return []string{
		"-c:v", "libx264",
		"-preset", f.preset,
		"-pix_fmt", "yuv420p",
		"-vf", fmt.Sprintf("scale=w=-2:h=%d", resolution),
		"-r", strconv.Itoa(fps),
	}
}

func (f *FFmpeg) audioArgs() []string {
	return []string{
		"-c:a", "aac",
		"-b:a", f.audioBitrate,
	}
}

// parseProgress converts an ffmpeg -progress line into a percentage
func parseProgress(line string, totalDuration float64) (float64, bool) {
	if totalDuration <= 0 {
		return 0, false
	}

	matches := progressRegex.FindStringSubmatch(line)
	if len(matches) < 2 {
		return 0, false
	}

	timeMs, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, false
	}

	// out_time_ms is in microseconds despite the name
	progress := (timeMs / 1000000.0 / totalDuration) * 100
	if progress > 100 {
		progress = 100
	}

	return progress, true
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
