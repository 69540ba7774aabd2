package models

import (
	"testing"
)

func TestBuildOriginalFileResolution(t *testing.T) {
	ladder := ResolutionLadder()

	tests := []struct {
		name     string
		input    int
		enabled  []int
		always   bool
		expected int
	}{
		{"standard resolution kept", 1080, ladder, false, 1080},
		{"non standard rounded down to ladder", 1000, ladder, false, 720},
		{"above ladder", 4320, ladder, false, 2160},
		{"below ladder keeps even input", 101, ladder, false, 100},
		{"disabled rungs skipped", 1080, []int{240, 480}, false, 480},
		{"always transcode original odd", 1081, ladder, true, 1080},
		{"always transcode original even", 1000, ladder, true, 1000},
		{"empty ladder", 721, nil, false, 720},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildOriginalFileResolution(tt.input, tt.enabled, tt.always)
			if got != tt.expected {
				t.Errorf("BuildOriginalFileResolution(%d) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestBuildOriginalFileResolutionIdempotent(t *testing.T) {
	ladder := ResolutionLadder()

	for _, input := range []int{99, 144, 360, 500, 719, 720, 1080, 1300, 2160, 5000} {
		for _, always := range []bool{false, true} {
			first := BuildOriginalFileResolution(input, ladder, always)
			second := BuildOriginalFileResolution(first, ladder, always)
			if first != second {
				t.Errorf("input %d (always=%v): first %d, second %d", input, always, first, second)
			}
		}
	}
}

func TestComputeOutputFPS(t *testing.T) {
	tests := []struct {
		name       string
		inputFPS   int
		resolution int
		expected   int
	}{
		{"average kept at low resolution", 30, 480, 30},
		{"60 downsampled at 480p", 60, 480, 30},
		{"50 downsampled at 480p", 50, 480, 25},
		{"48 downsampled at 360p", 48, 360, 24},
		{"60 kept at 720p", 60, 720, 60},
		{"120 capped at 1080p", 120, 1080, 60},
		{"100 capped at 1080p", 100, 1080, 50},
		{"zero raised to minimum", 0, 1080, FPSMin},
		{"24 untouched", 24, 240, 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeOutputFPS(tt.inputFPS, tt.resolution)
			if got != tt.expected {
				t.Errorf("ComputeOutputFPS(%d, %d) = %d, want %d", tt.inputFPS, tt.resolution, got, tt.expected)
			}
		})
	}
}

func TestIsStandardResolution(t *testing.T) {
	if !IsStandardResolution(720) {
		t.Error("720 should be standard")
	}
	if IsStandardResolution(700) {
		t.Error("700 should not be standard")
	}
}
