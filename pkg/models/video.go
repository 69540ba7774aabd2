package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Asset represents a video with its set of web-playable variant files
type Asset struct {
	ID        int64          `json:"id" db:"id"`
	UUID      string         `json:"uuid" db:"uuid"`
	Name      string         `json:"name" db:"name"`
	Duration  float64        `json:"duration" db:"duration"`
	Preview   *Preview       `json:"preview,omitempty"`
	Files     []*VariantFile `json:"files"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// Preview is the still image shown before playback
type Preview struct {
	Filename string `json:"filename" db:"preview_filename"`
}

// MaxQualityFile returns the variant with the highest resolution, preferring
// the higher frame rate on ties
func (a *Asset) MaxQualityFile() *VariantFile {
	var best *VariantFile
	for _, f := range a.Files {
		if best == nil || f.Resolution > best.Resolution ||
			(f.Resolution == best.Resolution && f.FPS > best.FPS) {
			best = f
		}
	}
	return best
}

// MinQualityFile returns the variant with the lowest resolution
func (a *Asset) MinQualityFile() *VariantFile {
	var worst *VariantFile
	for _, f := range a.Files {
		if worst == nil || f.Resolution < worst.Resolution ||
			(f.Resolution == worst.Resolution && f.FPS < worst.FPS) {
			worst = f
		}
	}
	return worst
}

// FileMetadata holds the container/stream description produced by probing
type FileMetadata map[string]interface{}

// Value implements driver.Valuer for database storage
func (m FileMetadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval
func (m *FileMetadata) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = make(FileMetadata)
		return nil
	case []byte:
		if len(v) == 0 {
			*m = make(FileMetadata)
			return nil
		}
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata type %T", value)
	}
}
