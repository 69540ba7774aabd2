package models

import (
	"sort"
)

// Standard vertical resolutions a web variant can be encoded to
const (
	Resolution144p  = 144
	Resolution240p  = 240
	Resolution360p  = 360
	Resolution480p  = 480
	Resolution720p  = 720
	Resolution1080p = 1080
	Resolution1440p = 1440
	Resolution2160p = 2160
)

// Frame rate limits applied to transcoded outputs
const (
	FPSMin                     = 1
	FPSAverage                 = 30
	FPSMax                     = 60
	FPSAudioMerge              = 25
	KeepOriginFPSResolutionMin = 720
)

var (
	standardFPS   = []int{24, 25, 30}
	hdStandardFPS = []int{50, 60}
)

// ResolutionLadder returns all standard resolutions in ascending order
func ResolutionLadder() []int {
	return []int{
		Resolution144p,
		Resolution240p,
		Resolution360p,
		Resolution480p,
		Resolution720p,
		Resolution1080p,
		Resolution1440p,
		Resolution2160p,
	}
}

// IsStandardResolution reports whether r is on the standard ladder
func IsStandardResolution(r int) bool {
	for _, s := range ResolutionLadder() {
		if s == r {
			return true
		}
	}
	return false
}

// BuildOriginalFileResolution picks the resolution an optimized original is
// encoded to. With always set, the input is kept (rounded down to even).
// Otherwise the largest enabled resolution not above the input is used,
// falling back to the even-rounded input when none qualifies.
//
// The function is idempotent: feeding its result back yields the same value.
func BuildOriginalFileResolution(input int, enabled []int, always bool) int {
	if always {
		return toEven(input)
	}

	candidates := make([]int, 0, len(enabled))
	for _, r := range enabled {
		if r > 0 && r <= input {
			candidates = append(candidates, r)
		}
	}

	if len(candidates) == 0 {
		return toEven(input)
	}

	sort.Ints(candidates)
	return candidates[len(candidates)-1]
}

// ComputeOutputFPS limits the frame rate of an output at the given resolution
func ComputeOutputFPS(inputFPS, resolution int) int {
	fps := inputFPS

	// Small resolutions do not need high frame rates; downsample to a
	// divisor-compatible standard rate
	if resolution < KeepOriginFPSResolutionMin && fps > FPSAverage {
		fps = closestFramerate(fps, standardFPS)
	}

	if fps > FPSMax {
		fps = closestFramerate(fps, hdStandardFPS)
	}

	if fps < FPSMin {
		fps = FPSMin
	}

	return fps
}

// closestFramerate returns the candidate dividing fps with the smallest remainder
func closestFramerate(fps int, candidates []int) int {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if fps%c < fps%best {
			best = c
		}
	}
	return best
}

func toEven(n int) int {
	if n%2 == 0 {
		return n
	}
	return n - 1
}
