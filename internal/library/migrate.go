package library

import (
	"context"
	"fmt"
)

// AutoMigrate creates the schema and seeds the reserved scopes. It is safe to
// run on every start.
func AutoMigrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS songs (
          file_id    TEXT PRIMARY KEY,
          title      TEXT NOT NULL DEFAULT '',
          artist     TEXT NOT NULL DEFAULT '',
          cover      TEXT NOT NULL DEFAULT '',
          lyrics     TEXT NOT NULL DEFAULT '',
          created_at TIMESTAMPTZ NOT NULL DEFAULT now()
      )
    `); err != nil {
		return fmt.Errorf("migrate songs: %w", err)
	}

	if _, err := db.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS playlists (
          id         TEXT PRIMARY KEY,
          name       TEXT NOT NULL,
          created_at TIMESTAMPTZ NOT NULL DEFAULT now()
      )
    `); err != nil {
		return fmt.Errorf("migrate playlists: %w", err)
	}

	if _, err := db.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS playlist_songs (
          playlist_id TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
          file_id     TEXT NOT NULL REFERENCES songs(file_id) ON DELETE CASCADE,
          position    INT NOT NULL,
          written_at  TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
          PRIMARY KEY (playlist_id, file_id)
      )
    `); err != nil {
		return fmt.Errorf("migrate playlist_songs: %w", err)
	}

	if _, err := db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_playlist_songs_order ON playlist_songs(playlist_id, position);
		CREATE INDEX IF NOT EXISTS idx_playlist_songs_file ON playlist_songs(file_id);
	`); err != nil {
		return fmt.Errorf("migrate indexes: %w", err)
	}

	if _, err := db.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS upload_logs (
          id         BIGSERIAL PRIMARY KEY,
          filename   TEXT NOT NULL DEFAULT '',
          status     TEXT NOT NULL,
          reason     TEXT NOT NULL DEFAULT '',
          created_at TIMESTAMPTZ NOT NULL DEFAULT now()
      )
    `); err != nil {
		return fmt.Errorf("migrate upload_logs: %w", err)
	}

	if _, err := db.Exec(ctx, `
      INSERT INTO playlists (id, name)
      VALUES ('all', 'All songs'), ('fav', 'Favorites')
      ON CONFLICT (id) DO NOTHING
    `); err != nil {
		return fmt.Errorf("seed reserved scopes: %w", err)
	}

	return nil
}
