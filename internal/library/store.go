package library

import "context"

// Store is the metadata store. Every method that touches more than one row
// is atomic: on error nothing it did is visible.
type Store interface {
	// Load reads songs, user playlists and every scope order in one
	// consistent view.
	Load(ctx context.Context) (*State, error)
	// ScopeOrder returns the members of scope in read order. Unknown scopes
	// yield an empty slice.
	ScopeOrder(ctx context.Context, scope string) ([]string, error)
	// PlaylistExists reports whether a playlist row with this id exists. The
	// reserved scopes always do.
	PlaylistExists(ctx context.Context, id string) (bool, error)

	UpdateSong(ctx context.Context, fileID, title, artist string) error
	// DeleteSong removes the song and every membership referencing it.
	DeleteSong(ctx context.Context, fileID string) (bool, error)

	CreatePlaylist(ctx context.Context, p Playlist) (Playlist, error)
	RenamePlaylist(ctx context.Context, id, name string) error
	DeletePlaylist(ctx context.Context, id string) (bool, error)

	// ReplaceOrder makes ids the complete membership of scope, positions by
	// index. With requireSameSet the ids must equal the current members.
	ReplaceOrder(ctx context.Context, scope string, ids []string, requireSameSet bool) error
	// AddMember appends fileID to the tail of scope unless already a member.
	AddMember(ctx context.Context, scope, fileID string) (bool, error)
	RemoveMember(ctx context.Context, scope, fileID string) (bool, error)

	// Ingest upserts the song and appends it to the global scope and to
	// target when target is not empty.
	Ingest(ctx context.Context, song Song, target string) (Song, error)
	// ReplaceAll swaps the whole library for imp.
	ReplaceAll(ctx context.Context, imp Import) error

	AppendUploadLog(ctx context.Context, entry UploadLog) error
	// UploadLogs returns at most limit entries, newest first.
	UploadLogs(ctx context.Context, limit int) ([]UploadLog, error)
	ClearUploadLogs(ctx context.Context) error
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			return false
		}
		delete(seen, id)
	}
	return len(seen) == 0
}
