package library

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/wliuy/TGmusic/internal/shared"
)

// DefaultLogLimit is how many upload log entries get_logs returns.
const DefaultLogLimit = 50

// Service is the library as seen by the API: the ordering engine plus
// snapshots, bulk replace and the single-field mutations.
type Service struct {
	*Engine
}

func NewService(store Store, pub Publisher, logger *log.Logger) *Service {
	return &Service{Engine: NewEngine(store, pub, logger)}
}

// Snapshot returns the whole library. Read failures are logged and produce an
// empty snapshot so the player can still start.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	st, err := s.store.Load(ctx)
	if err != nil {
		s.log.Error("load snapshot", "err", err)
		return EmptySnapshot()
	}
	return BuildSnapshot(st)
}

// BuildSnapshot assembles a snapshot from a loaded state. Every song appears
// once in Songs: the global order first, then songs without a global row by
// creation time. Scope orders drop ids that have no song.
func BuildSnapshot(st *State) Snapshot {
	snap := EmptySnapshot()
	if st == nil {
		return snap
	}

	byID := make(map[string]Song, len(st.Songs))
	for _, sg := range st.Songs {
		byID[sg.FileID] = sg
	}
	known := func(ids []string) []string {
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if _, ok := byID[id]; ok {
				out = append(out, id)
			}
		}
		return out
	}

	listed := make(map[string]struct{}, len(st.Songs))
	for _, id := range known(st.Orders[ScopeAll]) {
		if _, dup := listed[id]; dup {
			continue
		}
		listed[id] = struct{}{}
		snap.Songs = append(snap.Songs, byID[id])
		snap.AllOrder = append(snap.AllOrder, id)
	}
	for _, sg := range st.Songs {
		if _, ok := listed[sg.FileID]; !ok {
			listed[sg.FileID] = struct{}{}
			snap.Songs = append(snap.Songs, sg)
		}
	}

	snap.Favorites = known(st.Orders[ScopeFav])
	for _, p := range st.Playlists {
		snap.Playlists = append(snap.Playlists, PlaylistView{
			ID:   p.ID,
			Name: p.Name,
			IDs:  known(st.Orders[p.ID]),
		})
	}
	return snap
}

// BulkReplace swaps the whole library for imp in one transaction. Playlists
// without an id get a fresh one.
func (s *Service) BulkReplace(ctx context.Context, imp Import) error {
	songs := make(map[string]struct{}, len(imp.Songs))
	for _, sg := range imp.Songs {
		if strings.TrimSpace(sg.FileID) == "" {
			return fmt.Errorf("song without file id: %w", ErrInvalidInput)
		}
		if _, dup := songs[sg.FileID]; dup {
			return fmt.Errorf("duplicate song %q: %w", sg.FileID, ErrInvalidInput)
		}
		songs[sg.FileID] = struct{}{}
	}

	checkIDs := func(scope string, ids []string) error {
		if err := validateIDs(ids); err != nil {
			return fmt.Errorf("%s: %w", scope, err)
		}
		for _, id := range ids {
			if _, ok := songs[id]; !ok {
				return fmt.Errorf("%s references unknown song %q: %w", scope, id, ErrNotFound)
			}
		}
		return nil
	}
	if err := checkIDs(ScopeFav, imp.Favorites); err != nil {
		return err
	}

	playlists := make([]PlaylistView, 0, len(imp.Playlists))
	seen := map[string]struct{}{}
	for _, p := range imp.Playlists {
		if p.ID == "" {
			p.ID = shared.GenerateID()
		}
		if IsReserved(p.ID) {
			return fmt.Errorf("playlist id %q: %w", p.ID, ErrReservedScope)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate playlist %q: %w", p.ID, ErrInvalidInput)
		}
		seen[p.ID] = struct{}{}

		name, err := normalizeName(p.Name)
		if err != nil {
			return fmt.Errorf("playlist %q: %w", p.ID, err)
		}
		p.Name = name
		if err := checkIDs(p.ID, p.IDs); err != nil {
			return err
		}
		playlists = append(playlists, p)
	}
	imp.Playlists = playlists

	if err := s.store.ReplaceAll(ctx, imp); err != nil {
		return fmt.Errorf("replace library: %w", err)
	}
	s.publish(ctx, EventLibraryReplaced, map[string]any{
		"songs":     len(imp.Songs),
		"playlists": len(imp.Playlists),
	})
	return nil
}

// Ingest stores an uploaded song and appends it to the global scope and, if
// set, to target.
func (s *Service) Ingest(ctx context.Context, song Song, target string) (Song, error) {
	if strings.TrimSpace(song.FileID) == "" {
		return Song{}, fmt.Errorf("missing file id: %w", ErrInvalidInput)
	}
	saved, err := s.store.Ingest(ctx, song, target)
	if err != nil {
		return Song{}, fmt.Errorf("ingest %s: %w", song.FileID, err)
	}
	s.publish(ctx, EventSongIngested, map[string]any{"song": saved, "target": target})
	return saved, nil
}

// CheckTarget returns an error wrapping ErrNotFound unless target is empty,
// the global scope or an existing playlist, the same rule Ingest applies.
func (s *Service) CheckTarget(ctx context.Context, target string) error {
	if target == "" || target == ScopeAll {
		return nil
	}
	ok, err := s.store.PlaylistExists(ctx, target)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("target %q: %w", target, ErrNotFound)
	}
	return nil
}

func (s *Service) UpdateSong(ctx context.Context, fileID, title, artist string) error {
	if fileID == "" {
		return fmt.Errorf("missing file id: %w", ErrInvalidInput)
	}
	title, artist = strings.TrimSpace(title), strings.TrimSpace(artist)
	if title == "" {
		return fmt.Errorf("empty title: %w", ErrInvalidInput)
	}
	if err := s.store.UpdateSong(ctx, fileID, title, artist); err != nil {
		return fmt.Errorf("update song %s: %w", fileID, err)
	}
	s.publish(ctx, EventSongUpdated, map[string]any{"file_id": fileID, "title": title, "artist": artist})
	return nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxPlaylistName {
		return "", fmt.Errorf("name must be between 1 and %d characters: %w", maxPlaylistName, ErrInvalidInput)
	}
	return name, nil
}

func (s *Service) CreatePlaylist(ctx context.Context, name string) (Playlist, error) {
	name, err := normalizeName(name)
	if err != nil {
		return Playlist{}, err
	}
	p, err := s.store.CreatePlaylist(ctx, Playlist{ID: shared.GenerateID(), Name: name})
	if err != nil {
		return Playlist{}, fmt.Errorf("create playlist: %w", err)
	}
	s.publish(ctx, EventPlaylistCreated, map[string]any{"id": p.ID, "name": p.Name})
	return p, nil
}

func (s *Service) RenamePlaylist(ctx context.Context, id, name string) error {
	if IsReserved(id) {
		return fmt.Errorf("rename %s: %w", id, ErrReservedScope)
	}
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	if err := s.store.RenamePlaylist(ctx, id, name); err != nil {
		return fmt.Errorf("rename playlist %s: %w", id, err)
	}
	s.publish(ctx, EventPlaylistRenamed, map[string]any{"id": id, "name": name})
	return nil
}

// DeletePlaylist removes a user playlist and its memberships. Songs stay.
func (s *Service) DeletePlaylist(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("missing playlist id: %w", ErrInvalidInput)
	}
	if IsReserved(id) {
		return fmt.Errorf("delete %s: %w", id, ErrReservedScope)
	}
	removed, err := s.store.DeletePlaylist(ctx, id)
	if err != nil {
		return fmt.Errorf("delete playlist %s: %w", id, err)
	}
	if removed {
		s.publish(ctx, EventPlaylistDeleted, map[string]any{"id": id})
	}
	return nil
}

func (s *Service) LogUpload(ctx context.Context, filename, status, reason string) error {
	if err := s.store.AppendUploadLog(ctx, UploadLog{Filename: filename, Status: status, Reason: reason}); err != nil {
		return fmt.Errorf("append upload log: %w", err)
	}
	s.publish(ctx, EventUploadLogged, map[string]any{"filename": filename, "status": status})
	return nil
}

func (s *Service) UploadLogs(ctx context.Context, limit int) ([]UploadLog, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	logs, err := s.store.UploadLogs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("read upload logs: %w", err)
	}
	return logs, nil
}

func (s *Service) ClearUploadLogs(ctx context.Context) error {
	if err := s.store.ClearUploadLogs(ctx); err != nil {
		return fmt.Errorf("clear upload logs: %w", err)
	}
	return nil
}
