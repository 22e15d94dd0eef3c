package storage

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS thumbnails (
		id BIGSERIAL PRIMARY KEY,
		path TEXT NOT NULL,
		blur_data_url TEXT NOT NULL DEFAULT '',
		etag TEXT NOT NULL DEFAULT '',
		width BIGINT NOT NULL DEFAULT 0,
		height BIGINT NOT NULL DEFAULT 0,
		deleted_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS videos (
		id BIGSERIAL PRIMARY KEY,
		channel_id BIGINT NOT NULL REFERENCES channels (id),
		thumbnail_id BIGINT REFERENCES thumbnails (id),
		title TEXT NOT NULL,
		duration TEXT NOT NULL DEFAULT 'P0D',
		published_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		visible BOOLEAN NOT NULL DEFAULT TRUE,
		deleted_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL,
		import_token TEXT NOT NULL DEFAULT ''
	)`,
	`ALTER TABLE videos ADD COLUMN IF NOT EXISTS import_token TEXT NOT NULL DEFAULT ''`,
	`CREATE TABLE IF NOT EXISTS video_external_associations (
		id BIGSERIAL PRIMARY KEY,
		video_id BIGINT NOT NULL UNIQUE REFERENCES videos (id),
		external_id TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS video_external_associations_external_id_idx
		ON video_external_associations (external_id)`,
}

// Migrate brings the schema up to date. Statements are idempotent, so
// running it on every start is safe.
func (p *Postgres) Migrate(ctx context.Context) error {
	log.Debug("running schema migrations")

	for _, stmt := range migrations {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to run migration")
		}
	}

	return nil
}
