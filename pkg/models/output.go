package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StorageKind tells where the bytes of a variant live
type StorageKind int

const (
	StorageFileSystem  StorageKind = 0
	StorageObjectStore StorageKind = 1
)

func (s StorageKind) String() string {
	switch s {
	case StorageFileSystem:
		return "filesystem"
	case StorageObjectStore:
		return "object-store"
	default:
		return fmt.Sprintf("storage(%d)", int(s))
	}
}

// VariantFile is one encoded rendition of an asset.
//
// Size, FPS and Metadata are placeholders until the file has been
// finalized; a VariantFile is only persisted once its bytes are installed
// at their permanent location.
type VariantFile struct {
	ID              int64        `json:"id" db:"id"`
	AssetID         int64        `json:"asset_id" db:"asset_id"`
	Resolution      int          `json:"resolution" db:"resolution"`
	FPS             int          `json:"fps" db:"fps"`
	Extname         string       `json:"extname" db:"extname"`
	Filename        string       `json:"filename" db:"filename"`
	Size            int64        `json:"size" db:"size"`
	Storage         StorageKind  `json:"storage" db:"storage"`
	InfoHash        string       `json:"info_hash,omitempty" db:"info_hash"`
	TorrentFilename string       `json:"torrent_filename,omitempty" db:"torrent_filename"`
	Metadata        FileMetadata `json:"metadata" db:"metadata"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// GenerateWebVideoFilename returns a fresh filename for a web video variant
func GenerateWebVideoFilename(resolution int, extname string) string {
	return fmt.Sprintf("%s-%d%s", uuid.New().String(), resolution, extname)
}
