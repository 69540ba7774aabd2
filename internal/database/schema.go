package database

import (
	"context"
	"fmt"
)

// schema creates the asset and variant tables.
//
// The unique index on (asset_id, resolution, fps) is the replacement key:
// at most one web variant exists per resolution and frame rate.
const schema = `
CREATE TABLE IF NOT EXISTS assets (
	id               BIGSERIAL PRIMARY KEY,
	uuid             TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL DEFAULT '',
	duration         DOUBLE PRECISION NOT NULL DEFAULT 0,
	preview_filename TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS variant_files (
	id               BIGSERIAL PRIMARY KEY,
	asset_id         BIGINT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
	resolution       INTEGER NOT NULL,
	fps              INTEGER NOT NULL,
	extname          TEXT NOT NULL,
	filename         TEXT NOT NULL UNIQUE,
	size             BIGINT NOT NULL DEFAULT 0,
	storage          SMALLINT NOT NULL DEFAULT 0,
	info_hash        TEXT NOT NULL DEFAULT '',
	torrent_filename TEXT NOT NULL DEFAULT '',
	metadata         JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS variant_files_asset_resolution_fps
	ON variant_files (asset_id, resolution, fps);
`

// Migrate creates the tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
