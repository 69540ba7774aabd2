// Package swarm builds BitTorrent v1 metainfo for web video variants so
// they can be shared peer to peer.
package swarm

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

// DefaultPieceLength is used when no piece length is configured
const DefaultPieceLength = 256 * 1024

const createdBy = "vodpipeline"

// Options configures torrent generation
type Options struct {
	// Dir is where .torrent files are written
	Dir         string
	PieceLength int64
	Trackers    []string
	// WebSeedBase is the public URL prefix web videos are served under
	WebSeedBase string
}

// Generator creates torrent files for variants
type Generator struct {
	opts   Options
	logger *logging.Logger
}

// NewGenerator creates a new Generator
func NewGenerator(opts Options, logger *logging.Logger) *Generator {
	if opts.PieceLength <= 0 {
		opts.PieceLength = DefaultPieceLength
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Generator{opts: opts, logger: logger}
}

// Create hashes the file at path, writes its torrent under a fresh name and
// records the info hash and torrent filename on file. A torrent previously
// attached to the record is left in place; whoever retires that state
// removes it.
func (g *Generator) Create(ctx context.Context, asset *models.Asset, file *models.VariantFile, path string) error {
	stats, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	info := metainfo.Info{
		Name:        file.Filename,
		Length:      stats.Size(),
		PieceLength: g.opts.PieceLength,
	}
	err = info.GeneratePieces(func(metainfo.FileInfo) (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		return &ctxReader{ctx: ctx, ReadCloser: f}, nil
	})
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", path, err)
	}

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode info: %w", err)
	}

	mi := metainfo.MetaInfo{
		InfoBytes:    infoBytes,
		CreatedBy:    createdBy,
		CreationDate: time.Now().Unix(),
		Comment:      asset.Name,
	}
	if len(g.opts.Trackers) > 0 {
		mi.Announce = g.opts.Trackers[0]
		for _, tr := range g.opts.Trackers {
			mi.AnnounceList = append(mi.AnnounceList, []string{tr})
		}
	}
	if g.opts.WebSeedBase != "" {
		mi.UrlList = metainfo.UrlList{g.opts.WebSeedBase + "/" + file.Filename}
	}

	torrentFilename := fmt.Sprintf("%s-%d.torrent", uuid.NewString(), file.Resolution)
	if err := g.write(filepath.Join(g.opts.Dir, torrentFilename), &mi); err != nil {
		return err
	}

	file.InfoHash = mi.HashInfoBytes().HexString()
	file.TorrentFilename = torrentFilename

	g.logger.WithAssetID(asset.UUID).WithField("torrent", torrentFilename).Debug("torrent created")

	return nil
}

func (g *Generator) write(path string, mi *metainfo.MetaInfo) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create torrent: %w", err)
	}

	if err := mi.Write(f); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write torrent: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write torrent: %w", err)
	}
	return nil
}

// ctxReader stops hashing once ctx is done
type ctxReader struct {
	ctx context.Context
	io.ReadCloser
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.ReadCloser.Read(p)
}
