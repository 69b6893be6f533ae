package library

import "time"

// Reserved scopes. Both exist as seeded playlist rows so memberships can
// reference them like any user playlist.
const (
	ScopeAll = "all"
	ScopeFav = "fav"
)

// IsReserved reports whether id names one of the built-in scopes.
func IsReserved(id string) bool {
	return id == ScopeAll || id == ScopeFav
}

const maxPlaylistName = 200

type Song struct {
	FileID    string    `json:"file_id"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	Cover     string    `json:"cover"`
	Lyrics    string    `json:"lrc"`
	CreatedAt time.Time `json:"created_at"`
}

type Playlist struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// PlaylistView is a user playlist together with its ordered members.
type PlaylistView struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	IDs  []string `json:"ids"`
}

type Snapshot struct {
	Songs     []Song         `json:"songs"`
	AllOrder  []string       `json:"all_order"`
	Favorites []string       `json:"favorites"`
	Playlists []PlaylistView `json:"playlists"`
}

// EmptySnapshot returns a snapshot whose slices are non-nil so it encodes as
// empty JSON arrays.
func EmptySnapshot() Snapshot {
	return Snapshot{
		Songs:     []Song{},
		AllOrder:  []string{},
		Favorites: []string{},
		Playlists: []PlaylistView{},
	}
}

// Import is the input of BulkReplace. The global order is the order of Songs.
// A Snapshot encoded as JSON decodes into a valid Import.
type Import struct {
	Songs     []Song         `json:"songs"`
	Favorites []string       `json:"favorites"`
	Playlists []PlaylistView `json:"playlists"`
}

const (
	UploadSuccess = "SUCCESS"
	UploadFail    = "FAIL"
)

type UploadLog struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// State is everything a snapshot is built from, read in one consistent view.
type State struct {
	// Songs ordered by created_at, then file_id.
	Songs []Song
	// Playlists holds user playlists only, ordered by created_at.
	Playlists []Playlist
	// Orders maps a scope id to its members in read order.
	Orders map[string][]string
}
