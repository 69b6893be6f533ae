package library

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/wliuy/TGmusic/internal/shared"
)

// Engine keeps the per-scope orderings consistent. Every scope, reserved or
// not, is a list of memberships ordered by position.
type Engine struct {
	store Store
	pub   Publisher
	log   *log.Logger
}

func NewEngine(store Store, pub Publisher, logger *log.Logger) *Engine {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Engine{
		store: store,
		pub:   pub,
		log:   shared.Component(logger, "library"),
	}
}

// publish is best effort: the write already committed.
func (e *Engine) publish(ctx context.Context, typ string, payload map[string]any) {
	if err := e.pub.Publish(ctx, Event{Type: typ, Payload: payload}); err != nil {
		e.log.Warn("publish event", "type", typ, "err", err)
	}
}

func validateIDs(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("empty file id: %w", ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate file id %q: %w", id, ErrInvalidInput)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// SetOrder replaces the order of scope with ids. Members missing from ids
// leave the scope. The global scope only accepts a permutation of itself.
func (e *Engine) SetOrder(ctx context.Context, scope string, ids []string) error {
	if scope == "" {
		return fmt.Errorf("missing scope: %w", ErrInvalidInput)
	}
	if err := validateIDs(ids); err != nil {
		return err
	}
	if ids == nil {
		ids = []string{}
	}

	if err := e.store.ReplaceOrder(ctx, scope, ids, scope == ScopeAll); err != nil {
		return fmt.Errorf("set order of %s: %w", scope, err)
	}
	e.publish(ctx, EventOrderChanged, map[string]any{"playlist_id": scope, "ids": ids})
	return nil
}

// ToggleMembership adds fileID to the tail of scope or removes it. Removing
// from the global scope deletes the song.
func (e *Engine) ToggleMembership(ctx context.Context, scope, fileID string, present bool) (bool, error) {
	if scope == "" || fileID == "" {
		return false, fmt.Errorf("missing scope or file id: %w", ErrInvalidInput)
	}
	if scope == ScopeAll && !present {
		return e.RemoveSongEverywhere(ctx, fileID)
	}

	var (
		changed bool
		err     error
	)
	if present {
		changed, err = e.store.AddMember(ctx, scope, fileID)
	} else {
		changed, err = e.store.RemoveMember(ctx, scope, fileID)
	}
	if err != nil {
		return false, fmt.Errorf("toggle %s in %s: %w", fileID, scope, err)
	}
	if changed {
		e.publish(ctx, EventMembershipChanged, map[string]any{
			"playlist_id": scope,
			"file_id":     fileID,
			"present":     present,
		})
	}
	return changed, nil
}

func (e *Engine) RemoveFromScope(ctx context.Context, scope, fileID string) (bool, error) {
	return e.ToggleMembership(ctx, scope, fileID, false)
}

// RemoveSongEverywhere deletes the song and all of its memberships. Deleting
// an absent song is not an error.
func (e *Engine) RemoveSongEverywhere(ctx context.Context, fileID string) (bool, error) {
	if fileID == "" {
		return false, fmt.Errorf("missing file id: %w", ErrInvalidInput)
	}
	removed, err := e.store.DeleteSong(ctx, fileID)
	if err != nil {
		return false, fmt.Errorf("delete song %s: %w", fileID, err)
	}
	if removed {
		e.publish(ctx, EventSongDeleted, map[string]any{"file_id": fileID})
	}
	return removed, nil
}

// ReadScope returns the ordered members of scope, empty for unknown scopes.
func (e *Engine) ReadScope(ctx context.Context, scope string) ([]string, error) {
	ids, err := e.store.ScopeOrder(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", scope, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
