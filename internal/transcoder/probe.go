package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

// VideoMetadata holds the ffprobe fields the pipeline reads
type VideoMetadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	BitRate      string `json:"bit_rate"`
	FrameRate    string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

// ProbeResult is what Finalize needs to know about a produced file
type ProbeResult struct {
	Duration float64
	// FPS is 0 for files without a video stream
	FPS      int
	Metadata models.FileMetadata
}

func (f *FFmpeg) runProbe(ctx context.Context, inputPath string) ([]byte, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	return stdout.Bytes(), nil
}

// ProbeVideo extracts metadata from a media file
func (f *FFmpeg) ProbeVideo(ctx context.Context, inputPath string) (*VideoMetadata, error) {
	out, err := f.runProbe(ctx, inputPath)
	if err != nil {
		return nil, err
	}

	var metadata VideoMetadata
	if err := json.Unmarshal(out, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return &metadata, nil
}

// Probe reads duration, frame rate and the container metadata stored
// alongside a variant
func (f *FFmpeg) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	out, err := f.runProbe(ctx, path)
	if err != nil {
		return nil, err
	}
	return parseProbeOutput(out)
}

func parseProbeOutput(out []byte) (*ProbeResult, error) {
	var metadata VideoMetadata
	if err := json.Unmarshal(out, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	raw := make(models.FileMetadata)
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	result := &ProbeResult{Metadata: raw}

	if d, err := strconv.ParseFloat(metadata.Format.Duration, 64); err == nil {
		result.Duration = d
	}

	for _, stream := range metadata.Streams {
		if stream.CodecType != "video" {
			continue
		}
		result.FPS = streamFPS(stream)
		break
	}

	return result, nil
}

// streamFPS prefers the average frame rate and falls back to the base rate
func streamFPS(stream StreamInfo) int {
	for _, rate := range []string{stream.AvgFrameRate, stream.FrameRate} {
		if fps := parseFrameRate(rate); fps > 0 {
			return int(math.Round(fps))
		}
	}
	return 0
}

// parseFrameRate parses "30000/1001" or "25"
func parseFrameRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}

	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
