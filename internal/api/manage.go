package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/wliuy/TGmusic/internal/library"
)

type manageRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type songData struct {
	FileID     string `json:"file_id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	PlaylistID string `json:"playlist_id"`
	// Active is the wanted membership. Omitted means flip for toggle_fav
	// and add for add_to_playlist.
	Active *bool `json:"active"`
}

type playlistData struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type orderData struct {
	PlaylistID string   `json:"playlist_id"`
	IDs        []string `json:"ids"`
}

type logsData struct {
	Limit int `json:"limit"`
}

// actionFunc runs one action and returns the extra fields of the reply.
type actionFunc func(ctx context.Context, data json.RawMessage) (map[string]any, error)

func (s *Server) actions() map[string]actionFunc {
	return map[string]actionFunc{
		"update_song":     s.actUpdateSong,
		"delete_song":     s.actDeleteSong,
		"toggle_fav":      s.actToggleFav,
		"add_playlist":    s.actAddPlaylist,
		"rename_playlist": s.actRenamePlaylist,
		"delete_playlist": s.actDeletePlaylist,
		"add_to_playlist": s.actAddToPlaylist,
		"update_order":    s.actUpdateOrder,
		"get_logs":        s.actGetLogs,
		"clear_logs":      s.actClearLogs,
	}
}

func (s *Server) handleManage(w http.ResponseWriter, r *http.Request) {
	var req manageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeLibraryError(w, r, err)
		return
	}

	act, ok := s.actions()[req.Action]
	if !ok {
		s.metrics.ObserveAction("unknown", "error")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
		return
	}

	extra, err := act(r.Context(), req.Data)
	if err != nil {
		s.metrics.ObserveAction(req.Action, "error")
		s.writeLibraryError(w, r, err)
		return
	}
	s.metrics.ObserveAction(req.Action, "ok")
	writeOK(w, extra)
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: bad data: %v", library.ErrInvalidInput, err)
	}
	return nil
}

func requireField(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required: %w", name, library.ErrInvalidInput)
	}
	return nil
}

func (s *Server) actUpdateSong(ctx context.Context, data json.RawMessage) (map[string]any, error) {
	var d songData
	if err := unmarshalData(data, &d); err != nil {
		return nil, err
	}
	if err := requireField("file_id", d.FileID); err != nil {
		return nil, err
	}
	return nil, s.lib.UpdateSong(ctx, d.FileID, d.Title, d.Artist)
}

// actDeleteSong removes the song from one playlist, or from the library when
// the scope is the global one.
func (s *Server) actDeleteSong(ctx context.Context, data json.RawMessage) (map[string]any, error) {
	var d songData
	if err := unmarshalData(data, &d); err != nil {
		return nil, err
	}
	if err := requireField("file_id", d.FileID); err != nil {
		return nil, err
	}

	var (
		changed bool
		err     error
	)
	scope := strings.TrimSpace(d.PlaylistID)
	if scope == "" || scope == library.ScopeAll {
		changed, err = s.lib.RemoveSongEverywhere(ctx, d.FileID)
	} else {
		changed, err = s.lib.RemoveFromScope(ctx, scope, d.FileID)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"changed": changed}, nil
}

func (s *Server) actToggleFav(ctx context.Context, data json.RawMessage) (map[string]any, error) {
	var d songData
	if err := unmarshalData(data, &d); err != nil {
		return nil, err
	}
	if err := requireField("file_id", d.FileID); err != nil {
		return nil, err
	}

	var want bool
	if d.Active != nil {
		want = *d.Active
	} else {
		favs, err := s.lib.ReadScope(ctx, library.ScopeFav)
		if err != nil {
			return nil, err
		}
		want = !slices.Contains(favs, d.FileID)
	}

	changed, err := s.lib.ToggleMembership(ctx, library.ScopeFav, d.FileID, want)
	if err != nil {
		return nil, err
	}
	return map[string]any{"active": want, "changed": changed}, nil
}

func (s *Server) actAddPlaylist(ctx context.Context, data json.RawMessage) (map[string]any, error) {
	var d playlistData
	if err := unmarshalData(data, &d); err != nil {
		return nil, err
	}
	p, err := s.lib.CreatePlaylist(ctx, d.Name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"playlist": p}, nil
}

func (s *Server) actRenamePlaylist(ctx context.Context, data json.RawMessage) (map[string]any, error) {
	var d playlistData
	if err := unmarshalData(data, &d); err != nil {
		return nil, err
	}
	if err := requireField("id", d.ID); err != nil {
		return nil, err
	}
	return nil, s.lib.RenamePlaylist(ctx, d.ID, d.Name)
}

func (s *Server) actDeletePlaylist(ctx context.Context, data json.RawMessage) (map[string]any, error) {
	var d playlistData
	if err := unmarshalData(data, &d); err != nil {
		return nil, err
	}
	if err := requireField("id", d.ID); err != nil {
		return nil, err
	}
	return nil, s.lib.DeletePlaylist(ctx, d.ID)
}

func (s *Server) actAddToPlaylist(ctx context.Context, data json.RawMessage) (map[string]any, error) {
	var d songData
	if err := unmarshalData(data, &d); err != nil {
		return nil, err
	}
	if err := requireField("playlist_id", d.PlaylistID); err != nil {
		return nil, err
	}
	if err := requireField("file_id", d.FileID); err != nil {
		return nil, err
	}

	want := true
	if d.Active != nil {
		want = *d.Active
	}
	changed, err := s.lib.ToggleMembership(ctx, d.PlaylistID, d.FileID, want)
	if err != nil {
		return nil, err
	}
	return map[string]any{"active": want, "changed": changed}, nil
}

func (s *Server) actUpdateOrder(ctx context.Context, data json.RawMessage) (map[string]any, error) {
	var d orderData
	if err := unmarshalData(data, &d); err != nil {
		return nil, err
	}
	if err := requireField("playlist_id", d.PlaylistID); err != nil {
		return nil, err
	}
	if d.IDs == nil {
		d.IDs = []string{}
	}
	return nil, s.lib.SetOrder(ctx, d.PlaylistID, d.IDs)
}

func (s *Server) actGetLogs(ctx context.Context, data json.RawMessage) (map[string]any, error) {
	var d logsData
	if err := unmarshalData(data, &d); err != nil {
		return nil, err
	}
	logs, err := s.lib.UploadLogs(ctx, d.Limit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []library.UploadLog{}
	}
	return map[string]any{"logs": logs}, nil
}

func (s *Server) actClearLogs(ctx context.Context, _ json.RawMessage) (map[string]any, error) {
	return nil, s.lib.ClearUploadLogs(ctx)
}
