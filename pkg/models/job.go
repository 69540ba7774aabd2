package models

import (
	"time"
)

// PipelineJob is the payload carried on the transcoding queue. It is also
// the caller-visible handle of a running pipeline operation.
type PipelineJob struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	AssetUUID      string    `json:"asset_uuid"`
	InputFileID    int64     `json:"input_file_id,omitempty"`
	QuickTranscode bool      `json:"quick_transcode,omitempty"`
	Resolution     int       `json:"resolution,omitempty"`
	FPS            int       `json:"fps,omitempty"`
	Priority       int       `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
}

// PipelineJob types
const (
	JobTypeOptimizeToWebVideo      = "optimize-to-web-video"
	JobTypeNewResolutionToWebVideo = "new-resolution-to-web-video"
	JobTypeMergeAudioToWebVideo    = "merge-audio-to-web-video"
)

// FollowOnJob is scheduled once a pipeline operation has published a variant
type FollowOnJob struct {
	Type      string    `json:"type"`
	AssetUUID string    `json:"asset_uuid"`
	Federate  bool      `json:"federate"`
	CreatedAt time.Time `json:"created_at"`
}

// FollowOnJob types
const (
	JobTypeGenerateStoryboard = "generate-video-storyboard"
)

// JobPriority constants
const (
	JobPriorityLow    = 0
	JobPriorityNormal = 5
	JobPriorityHigh   = 10
)

// ValidJobType reports whether t names a pipeline operation
func ValidJobType(t string) bool {
	switch t {
	case JobTypeOptimizeToWebVideo, JobTypeNewResolutionToWebVideo, JobTypeMergeAudioToWebVideo:
		return true
	}
	return false
}
