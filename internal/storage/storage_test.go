package storage

import (
	"testing"
)

func TestWebVideoObjectKey(t *testing.T) {
	if got := WebVideoObjectKey("abc-480.mp4"); got != "web-videos/abc-480.mp4" {
		t.Errorf("WebVideoObjectKey() = %q", got)
	}
}
