package library

import "context"

// Change event types published after a write commits.
const (
	EventSongUpdated       = "song.updated"
	EventSongDeleted       = "song.deleted"
	EventSongIngested      = "song.ingested"
	EventMembershipChanged = "membership.changed"
	EventOrderChanged      = "order.changed"
	EventPlaylistCreated   = "playlist.created"
	EventPlaylistRenamed   = "playlist.renamed"
	EventPlaylistDeleted   = "playlist.deleted"
	EventLibraryReplaced   = "library.replaced"
	EventUploadLogged      = "upload.logged"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
