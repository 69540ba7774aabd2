package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

// ObjectStore is the subset of object storage the path manager needs
type ObjectStore interface {
	DownloadFile(ctx context.Context, objectName, filePath string) error
	Delete(ctx context.Context, objectName string) error
}

// Dirs holds the local directories managed by PathManager
type Dirs struct {
	WebVideos string
	Previews  string
	Torrents  string
	Tmp       string
}

// PathManager resolves permanent locations of asset files and makes remote
// files locally readable
type PathManager struct {
	dirs    Dirs
	objects ObjectStore
	logger  *logging.Logger
}

// NewPathManager creates a path manager. objects may be nil when no
// variant lives in object storage.
func NewPathManager(dirs Dirs, objects ObjectStore, logger *logging.Logger) *PathManager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &PathManager{dirs: dirs, objects: objects, logger: logger}
}

// EnsureDirs creates the managed directories
func (p *PathManager) EnsureDirs() error {
	for _, dir := range []string{p.dirs.WebVideos, p.dirs.Previews, p.dirs.Torrents, p.dirs.Tmp} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// TmpDir returns the shared scratch directory
func (p *PathManager) TmpDir() string {
	return p.dirs.Tmp
}

// WebVideoPath returns the permanent filesystem path of a web video variant
func (p *PathManager) WebVideoPath(_ *models.Asset, file *models.VariantFile) string {
	return filepath.Join(p.dirs.WebVideos, file.Filename)
}

// PreviewPath returns the filesystem path of the asset preview image
func (p *PathManager) PreviewPath(asset *models.Asset) (string, error) {
	if asset.Preview == nil || asset.Preview.Filename == "" {
		return "", fmt.Errorf("asset %s has no preview", asset.UUID)
	}
	return filepath.Join(p.dirs.Previews, asset.Preview.Filename), nil
}

// TorrentPath returns the filesystem path of a torrent file
func (p *PathManager) TorrentPath(filename string) string {
	return filepath.Join(p.dirs.Torrents, filename)
}

// MakeAvailable calls fn with a locally readable path of file. Files in
// object storage are downloaded to the scratch directory and removed once
// fn returns, whatever its outcome.
func (p *PathManager) MakeAvailable(ctx context.Context, asset *models.Asset, file *models.VariantFile, fn func(path string) error) error {
	if file.Storage == models.StorageFileSystem {
		return fn(p.WebVideoPath(asset, file))
	}

	if p.objects == nil {
		return fmt.Errorf("file %s is in object storage but no object store is configured", file.Filename)
	}

	localPath := filepath.Join(p.dirs.Tmp, asset.UUID+"-"+file.Filename)
	if err := p.objects.DownloadFile(ctx, WebVideoObjectKey(file.Filename), localPath); err != nil {
		RemoveIfExists(localPath)
		return fmt.Errorf("failed to stage %s: %w", file.Filename, err)
	}

	defer func() {
		if err := RemoveIfExists(localPath); err != nil {
			p.logger.WithField("path", localPath).ErrorWithErr("Failed to remove staged copy", err)
		}
	}()

	return fn(localPath)
}

// RemoveWebVideo deletes the bytes of a variant from wherever they live,
// together with its torrent file
func (p *PathManager) RemoveWebVideo(ctx context.Context, asset *models.Asset, file *models.VariantFile) error {
	switch file.Storage {
	case models.StorageFileSystem:
		if err := RemoveIfExists(p.WebVideoPath(asset, file)); err != nil {
			return fmt.Errorf("failed to remove web video: %w", err)
		}
	case models.StorageObjectStore:
		if p.objects == nil {
			return fmt.Errorf("file %s is in object storage but no object store is configured", file.Filename)
		}
		if err := p.objects.Delete(ctx, WebVideoObjectKey(file.Filename)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown storage %s", file.Storage)
	}

	if file.TorrentFilename != "" {
		if err := RemoveIfExists(p.TorrentPath(file.TorrentFilename)); err != nil {
			return fmt.Errorf("failed to remove torrent: %w", err)
		}
	}

	return nil
}

// RemoveIfExists removes path, treating a missing file as success
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MoveFile moves src to dst, overwriting dst. Moves across filesystems
// fall back to copying.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("failed to move %s: %w", src, err)
	}

	tmp := dst + ".partial"
	if err := CopyFile(src, tmp); err != nil {
		RemoveIfExists(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		RemoveIfExists(tmp)
		return fmt.Errorf("failed to move %s: %w", src, err)
	}

	return RemoveIfExists(src)
}

// CopyFile copies src to dst, replacing dst
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}

	return out.Close()
}
