package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is satisfied by *pgxpool.Pool and by pgxmock pools.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// querier is the subset shared by DB and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var readOnlyTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// withTx runs fn in a transaction and commits when fn returns nil.
func withTx(ctx context.Context, db DB, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const appendMemberSQL = `
      INSERT INTO playlist_songs (playlist_id, file_id, position)
      SELECT $1, $2, COALESCE(MAX(position) + 1, 0)
      FROM playlist_songs
      WHERE playlist_id = $1
      ON CONFLICT (playlist_id, file_id) DO NOTHING
`

func appendMember(ctx context.Context, q querier, scope, fileID string) (bool, error) {
	tag, err := q.Exec(ctx, appendMemberSQL, scope, fileID)
	if err != nil {
		return false, mapPgError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func scopeOrder(ctx context.Context, q querier, scope string) ([]string, error) {
	rows, err := q.Query(ctx, `
      SELECT file_id
      FROM playlist_songs
      WHERE playlist_id = $1
      ORDER BY position ASC, written_at ASC, file_id ASC
    `, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Load(ctx context.Context) (*State, error) {
	st := &State{Orders: map[string][]string{}}
	err := withTx(ctx, s.db, readOnlyTx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
          SELECT file_id, title, artist, cover, lyrics, created_at
          FROM songs
          ORDER BY created_at ASC, file_id ASC
        `)
		if err != nil {
			return fmt.Errorf("load songs: %w", err)
		}
		for rows.Next() {
			var sg Song
			if err := rows.Scan(&sg.FileID, &sg.Title, &sg.Artist, &sg.Cover, &sg.Lyrics, &sg.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan song: %w", err)
			}
			st.Songs = append(st.Songs, sg)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("load songs: %w", err)
		}

		rows, err = tx.Query(ctx, `
          SELECT id, name, created_at
          FROM playlists
          WHERE id NOT IN ('all', 'fav')
          ORDER BY created_at ASC, id ASC
        `)
		if err != nil {
			return fmt.Errorf("load playlists: %w", err)
		}
		for rows.Next() {
			var p Playlist
			if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan playlist: %w", err)
			}
			st.Playlists = append(st.Playlists, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("load playlists: %w", err)
		}

		rows, err = tx.Query(ctx, `
          SELECT playlist_id, file_id
          FROM playlist_songs
          ORDER BY playlist_id, position ASC, written_at ASC, file_id ASC
        `)
		if err != nil {
			return fmt.Errorf("load memberships: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var scope, id string
			if err := rows.Scan(&scope, &id); err != nil {
				return fmt.Errorf("scan membership: %w", err)
			}
			st.Orders[scope] = append(st.Orders[scope], id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PostgresStore) ScopeOrder(ctx context.Context, scope string) ([]string, error) {
	return scopeOrder(ctx, s.db, scope)
}

func (s *PostgresStore) PlaylistExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM playlists WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("lookup playlist: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) UpdateSong(ctx context.Context, fileID, title, artist string) error {
	tag, err := s.db.Exec(ctx, `
      UPDATE songs SET title = $2, artist = $3
      WHERE file_id = $1
    `, fileID, title, artist)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteSong(ctx context.Context, fileID string) (bool, error) {
	var removed bool
	err := withTx(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM playlist_songs WHERE file_id = $1`, fileID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM songs WHERE file_id = $1`, fileID)
		if err != nil {
			return err
		}
		removed = tag.RowsAffected() > 0
		return nil
	})
	return removed, err
}

func (s *PostgresStore) CreatePlaylist(ctx context.Context, p Playlist) (Playlist, error) {
	err := s.db.QueryRow(ctx, `
      INSERT INTO playlists (id, name)
      VALUES ($1, $2)
      RETURNING created_at
    `, p.ID, p.Name).Scan(&p.CreatedAt)
	if err != nil {
		return Playlist{}, err
	}
	return p, nil
}

func (s *PostgresStore) RenamePlaylist(ctx context.Context, id, name string) error {
	tag, err := s.db.Exec(ctx, `UPDATE playlists SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePlaylist relies on ON DELETE CASCADE for the memberships.
func (s *PostgresStore) DeletePlaylist(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM playlists WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReplaceOrder(ctx context.Context, scope string, ids []string, requireSameSet bool) error {
	return withTx(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM playlists WHERE id = $1 FOR UPDATE`, scope).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("scope %q: %w", scope, ErrNotFound)
		}
		if err != nil {
			return err
		}

		if requireSameSet {
			current, err := scopeOrder(ctx, tx, scope)
			if err != nil {
				return err
			}
			if !sameSet(current, ids) {
				return ErrOrderMismatch
			}
		}

		if _, err := tx.Exec(ctx, `
          DELETE FROM playlist_songs
          WHERE playlist_id = $1 AND NOT (file_id = ANY($2))
        `, scope, ids); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `
          INSERT INTO playlist_songs (playlist_id, file_id, position)
          SELECT $1, t.file_id, t.ord - 1
          FROM unnest($2::text[]) WITH ORDINALITY AS t(file_id, ord)
          ON CONFLICT (playlist_id, file_id)
          DO UPDATE SET position = EXCLUDED.position, written_at = clock_timestamp()
        `, scope, ids); err != nil {
			if mapped := mapPgError(err); errors.Is(mapped, ErrNotFound) {
				return fmt.Errorf("unknown song in order: %w", ErrNotFound)
			}
			return err
		}
		return nil
	})
}

func (s *PostgresStore) AddMember(ctx context.Context, scope, fileID string) (bool, error) {
	return appendMember(ctx, s.db, scope, fileID)
}

func (s *PostgresStore) RemoveMember(ctx context.Context, scope, fileID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
      DELETE FROM playlist_songs
      WHERE playlist_id = $1 AND file_id = $2
    `, scope, fileID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Ingest(ctx context.Context, song Song, target string) (Song, error) {
	err := withTx(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if target != "" && target != ScopeAll {
			var id string
			err := tx.QueryRow(ctx, `SELECT id FROM playlists WHERE id = $1 FOR SHARE`, target).Scan(&id)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("target %q: %w", target, ErrNotFound)
			}
			if err != nil {
				return err
			}
		}

		if err := tx.QueryRow(ctx, `
          INSERT INTO songs (file_id, title, artist, cover, lyrics)
          VALUES ($1, $2, $3, $4, $5)
          ON CONFLICT (file_id) DO UPDATE
          SET title = EXCLUDED.title,
              artist = EXCLUDED.artist,
              cover = EXCLUDED.cover,
              lyrics = EXCLUDED.lyrics
          RETURNING created_at
        `, song.FileID, song.Title, song.Artist, song.Cover, song.Lyrics).Scan(&song.CreatedAt); err != nil {
			return fmt.Errorf("upsert song: %w", err)
		}

		if _, err := appendMember(ctx, tx, ScopeAll, song.FileID); err != nil {
			return fmt.Errorf("append to %s: %w", ScopeAll, err)
		}
		if target != "" && target != ScopeAll {
			if _, err := appendMember(ctx, tx, target, song.FileID); err != nil {
				return fmt.Errorf("append to %s: %w", target, err)
			}
		}
		return nil
	})
	if err != nil {
		return Song{}, err
	}
	return song, nil
}

func (s *PostgresStore) ReplaceAll(ctx context.Context, imp Import) error {
	now := time.Now().UTC()

	songRows := make([][]any, 0, len(imp.Songs))
	memberRows := make([][]any, 0, len(imp.Songs)+len(imp.Favorites))
	for i, sg := range imp.Songs {
		created := sg.CreatedAt
		if created.IsZero() {
			created = now
		}
		songRows = append(songRows, []any{sg.FileID, sg.Title, sg.Artist, sg.Cover, sg.Lyrics, created})
		memberRows = append(memberRows, []any{ScopeAll, sg.FileID, i})
	}
	for i, id := range imp.Favorites {
		memberRows = append(memberRows, []any{ScopeFav, id, i})
	}
	playlistRows := make([][]any, 0, len(imp.Playlists))
	for i, p := range imp.Playlists {
		// keep input order as display order
		playlistRows = append(playlistRows, []any{p.ID, p.Name, now.Add(time.Duration(i) * time.Millisecond)})
		for j, id := range p.IDs {
			memberRows = append(memberRows, []any{p.ID, id, j})
		}
	}

	return withTx(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM playlist_songs`); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM playlists WHERE id NOT IN ('all', 'fav')`); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM songs`); err != nil {
			return err
		}

		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"songs"},
			[]string{"file_id", "title", "artist", "cover", "lyrics", "created_at"},
			pgx.CopyFromRows(songRows)); err != nil {
			return fmt.Errorf("copy songs: %w", err)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"playlists"},
			[]string{"id", "name", "created_at"},
			pgx.CopyFromRows(playlistRows)); err != nil {
			return fmt.Errorf("copy playlists: %w", err)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"playlist_songs"},
			[]string{"playlist_id", "file_id", "position"},
			pgx.CopyFromRows(memberRows)); err != nil {
			return fmt.Errorf("copy memberships: %w", mapPgError(err))
		}
		return nil
	})
}

func (s *PostgresStore) AppendUploadLog(ctx context.Context, entry UploadLog) error {
	_, err := s.db.Exec(ctx, `
      INSERT INTO upload_logs (filename, status, reason)
      VALUES ($1, $2, $3)
    `, entry.Filename, entry.Status, entry.Reason)
	return err
}

func (s *PostgresStore) UploadLogs(ctx context.Context, limit int) ([]UploadLog, error) {
	rows, err := s.db.Query(ctx, `
      SELECT id, filename, status, reason, created_at
      FROM upload_logs
      ORDER BY id DESC
      LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []UploadLog{}
	for rows.Next() {
		var l UploadLog
		if err := rows.Scan(&l.ID, &l.Filename, &l.Status, &l.Reason, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *PostgresStore) ClearUploadLogs(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM upload_logs`)
	return err
}
