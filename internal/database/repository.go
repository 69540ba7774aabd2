package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

// ErrNotFound is returned when a looked up record does not exist
var ErrNotFound = errors.New("record not found")

// querier is implemented by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides database operations for assets and their variants.
// It is the variant registry of the transcode pipeline.
type Repository struct {
	db     *DB
	logger *logging.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Repository{db: db, logger: logger}
}

// Health checks the database connection
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

const variantColumns = `id, asset_id, resolution, fps, extname, filename, size, storage,
	info_hash, torrent_filename, metadata, created_at, updated_at`

// Assets

// CreateAsset creates a new asset record
func (r *Repository) CreateAsset(ctx context.Context, asset *models.Asset) error {
	preview := ""
	if asset.Preview != nil {
		preview = asset.Preview.Filename
	}

	query := `
		INSERT INTO assets (uuid, name, duration, preview_filename)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		asset.UUID, asset.Name, asset.Duration, preview,
	).Scan(&asset.ID, &asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}

	return nil
}

// LoadAssetFull retrieves an asset by UUID together with its variant files
func (r *Repository) LoadAssetFull(ctx context.Context, assetUUID string) (_ *models.Asset, err error) {
	defer r.observe("load_asset_full", time.Now(), &err)

	var asset models.Asset
	var preview string

	query := `
		SELECT id, uuid, name, duration, preview_filename, created_at, updated_at
		FROM assets
		WHERE uuid = $1
	`

	err = r.db.Pool.QueryRow(ctx, query, assetUUID).Scan(
		&asset.ID, &asset.UUID, &asset.Name, &asset.Duration, &preview,
		&asset.CreatedAt, &asset.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", assetUUID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	if preview != "" {
		asset.Preview = &models.Preview{Filename: preview}
	}

	files, err := listVariants(ctx, r.db.Pool, asset.ID)
	if err != nil {
		return nil, err
	}
	asset.Files = files

	return &asset, nil
}

// SaveAssetDuration persists a new duration for an asset
func (r *Repository) SaveAssetDuration(ctx context.Context, assetID int64, duration float64) (err error) {
	defer r.observe("save_asset_duration", time.Now(), &err)

	query := `UPDATE assets SET duration = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, assetID, duration)
	if err != nil {
		return fmt.Errorf("failed to update asset duration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("asset %d: %w", assetID, ErrNotFound)
	}

	return nil
}

// Variant files

// LoadVariant retrieves a variant file by ID
func (r *Repository) LoadVariant(ctx context.Context, id int64) (*models.VariantFile, error) {
	query := `SELECT ` + variantColumns + ` FROM variant_files WHERE id = $1`

	file, err := scanVariant(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("variant %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}

	return file, nil
}

// LookupWebVariant returns the variant registered for (asset, fps,
// resolution), or nil when there is none
func (r *Repository) LookupWebVariant(ctx context.Context, assetID int64, fps, resolution int) (*models.VariantFile, error) {
	query := `SELECT ` + variantColumns + `
		FROM variant_files
		WHERE asset_id = $1 AND fps = $2 AND resolution = $3`

	file, err := scanVariant(r.db.Pool.QueryRow(ctx, query, assetID, fps, resolution))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup variant: %w", err)
	}

	return file, nil
}

// ListVariants retrieves all variants of an asset
func (r *Repository) ListVariants(ctx context.Context, assetID int64) ([]*models.VariantFile, error) {
	return listVariants(ctx, r.db.Pool, assetID)
}

// UpsertVariant inserts file, or updates it when it already has an ID
func (r *Repository) UpsertVariant(ctx context.Context, file *models.VariantFile) error {
	return upsertVariant(ctx, r.db.Pool, file)
}

// RemoveVariant deletes a variant record
func (r *Repository) RemoveVariant(ctx context.Context, file *models.VariantFile) error {
	return removeVariant(ctx, r.db.Pool, file)
}

// ReplaceWebVariant removes old (when non-nil) and upserts file in a single
// transaction, so readers see either the old or the new variant
func (r *Repository) ReplaceWebVariant(ctx context.Context, old, file *models.VariantFile) (err error) {
	defer r.observe("replace_web_variant", time.Now(), &err)

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if old != nil {
		if err := removeVariant(ctx, tx, old); err != nil {
			return err
		}
	}

	if err := upsertVariant(ctx, tx, file); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit variant replacement: %w", err)
	}

	return nil
}

func listVariants(ctx context.Context, q querier, assetID int64) ([]*models.VariantFile, error) {
	query := `SELECT ` + variantColumns + `
		FROM variant_files
		WHERE asset_id = $1
		ORDER BY resolution DESC, fps DESC`

	rows, err := q.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	var files []*models.VariantFile
	for rows.Next() {
		file, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		files = append(files, file)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}

	return files, nil
}

func upsertVariant(ctx context.Context, q querier, file *models.VariantFile) error {
	metadata, err := file.Metadata.Value()
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	if file.ID == 0 {
		query := `
			INSERT INTO variant_files (asset_id, resolution, fps, extname, filename, size, storage,
			                           info_hash, torrent_filename, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at, updated_at
		`

		err = q.QueryRow(ctx, query,
			file.AssetID, file.Resolution, file.FPS, file.Extname, file.Filename, file.Size,
			int(file.Storage), file.InfoHash, file.TorrentFilename, metadata,
		).Scan(&file.ID, &file.CreatedAt, &file.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert variant: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO variant_files (id, asset_id, resolution, fps, extname, filename, size, storage,
		                           info_hash, torrent_filename, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET asset_id = EXCLUDED.asset_id, resolution = EXCLUDED.resolution, fps = EXCLUDED.fps,
		    extname = EXCLUDED.extname, filename = EXCLUDED.filename, size = EXCLUDED.size,
		    storage = EXCLUDED.storage, info_hash = EXCLUDED.info_hash,
		    torrent_filename = EXCLUDED.torrent_filename, metadata = EXCLUDED.metadata,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err = q.QueryRow(ctx, query,
		file.ID, file.AssetID, file.Resolution, file.FPS, file.Extname, file.Filename, file.Size,
		int(file.Storage), file.InfoHash, file.TorrentFilename, metadata,
	).Scan(&file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert variant: %w", err)
	}

	return nil
}

func removeVariant(ctx context.Context, q querier, file *models.VariantFile) error {
	if _, err := q.Exec(ctx, `DELETE FROM variant_files WHERE id = $1`, file.ID); err != nil {
		return fmt.Errorf("failed to remove variant: %w", err)
	}
	return nil
}

func scanVariant(row pgx.Row) (*models.VariantFile, error) {
	var file models.VariantFile
	var storage int
	var metadata []byte

	err := row.Scan(
		&file.ID, &file.AssetID, &file.Resolution, &file.FPS, &file.Extname, &file.Filename,
		&file.Size, &storage, &file.InfoHash, &file.TorrentFilename, &metadata,
		&file.CreatedAt, &file.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	file.Storage = models.StorageKind(storage)
	if err := file.Metadata.Scan(metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	return &file, nil
}

// observe records the outcome of a timed repository operation. Lookups of
// missing records are not failures.
func (r *Repository) observe(operation string, start time.Time, errp *error) {
	elapsed := time.Since(start)

	var err error
	status := "success"
	switch {
	case *errp == nil:
	case errors.Is(*errp, ErrNotFound):
		status = "not_found"
	default:
		status = "error"
		err = *errp
	}

	metrics.RecordDatabaseOperation(operation, status, elapsed.Seconds())
	r.logger.LogDatabaseOperation(operation, elapsed, err)
}
