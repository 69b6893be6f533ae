package library

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runLibrarySuite checks the ordering properties against any Store. newStore
// must return an empty library.
func runLibrarySuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	setup := func(t *testing.T) (*Service, context.Context) {
		return NewService(newStore(t), nil, nil), context.Background()
	}
	ingest := func(t *testing.T, svc *Service, id, target string) {
		t.Helper()
		_, err := svc.Ingest(context.Background(), Song{FileID: id, Title: id, Artist: "Unknown"}, target)
		require.NoError(t, err)
	}
	read := func(t *testing.T, svc *Service, scope string) []string {
		t.Helper()
		ids, err := svc.ReadScope(context.Background(), scope)
		require.NoError(t, err)
		return ids
	}
	assertOrder := func(t *testing.T, svc *Service, scope string, want []string) {
		t.Helper()
		if diff := cmp.Diff(want, read(t, svc, scope)); diff != "" {
			t.Errorf("%s order mismatch (-want +got):\n%s", scope, diff)
		}
	}

	t.Run("Scenario", func(t *testing.T) {
		svc, ctx := setup(t)
		p, err := svc.CreatePlaylist(ctx, "X")
		require.NoError(t, err)

		ingest(t, svc, "A", "")
		assertOrder(t, svc, ScopeAll, []string{"A"})

		ingest(t, svc, "B", p.ID)
		assertOrder(t, svc, ScopeAll, []string{"A", "B"})
		assertOrder(t, svc, p.ID, []string{"B"})

		changed, err := svc.ToggleMembership(ctx, ScopeFav, "A", true)
		require.NoError(t, err)
		assert.True(t, changed)
		assertOrder(t, svc, ScopeFav, []string{"A"})

		require.NoError(t, svc.SetOrder(ctx, ScopeAll, []string{"B", "A"}))
		assertOrder(t, svc, ScopeAll, []string{"B", "A"})
		assertOrder(t, svc, ScopeFav, []string{"A"})
		assertOrder(t, svc, p.ID, []string{"B"})

		_, err = svc.RemoveSongEverywhere(ctx, "B")
		require.NoError(t, err)
		assertOrder(t, svc, ScopeAll, []string{"A"})
		assertOrder(t, svc, p.ID, []string{})
		assertOrder(t, svc, ScopeFav, []string{"A"})
	})

	t.Run("ToggleIdempotence", func(t *testing.T) {
		svc, ctx := setup(t)
		ingest(t, svc, "a", "")
		ingest(t, svc, "b", "")

		changed, err := svc.ToggleMembership(ctx, ScopeFav, "b", true)
		require.NoError(t, err)
		assert.True(t, changed)
		once := read(t, svc, ScopeFav)

		changed, err = svc.ToggleMembership(ctx, ScopeFav, "b", true)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, once, read(t, svc, ScopeFav))

		changed, err = svc.ToggleMembership(ctx, ScopeFav, "b", false)
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = svc.ToggleMembership(ctx, ScopeFav, "b", false)
		require.NoError(t, err)
		assert.False(t, changed)
		assertOrder(t, svc, ScopeFav, []string{})
	})

	t.Run("ToggleAppendsAtTail", func(t *testing.T) {
		svc, ctx := setup(t)
		for _, id := range []string{"a", "b", "c"} {
			ingest(t, svc, id, "")
		}
		for _, id := range []string{"c", "a", "b"} {
			_, err := svc.ToggleMembership(ctx, ScopeFav, id, true)
			require.NoError(t, err)
		}
		assertOrder(t, svc, ScopeFav, []string{"c", "a", "b"})
	})

	t.Run("ToggleUnknownSong", func(t *testing.T) {
		svc, ctx := setup(t)
		_, err := svc.ToggleMembership(ctx, ScopeFav, "ghost", true)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("OrderRoundTrip", func(t *testing.T) {
		svc, ctx := setup(t)
		p, err := svc.CreatePlaylist(ctx, "mix")
		require.NoError(t, err)
		for _, id := range []string{"a", "b", "c", "d"} {
			ingest(t, svc, id, p.ID)
		}

		perms := [][]string{
			{"d", "c", "b", "a"},
			{"b", "d", "a", "c"},
			{"a", "b", "c", "d"},
		}
		for _, perm := range perms {
			require.NoError(t, svc.SetOrder(ctx, p.ID, perm))
			assertOrder(t, svc, p.ID, perm)
			require.NoError(t, svc.SetOrder(ctx, ScopeAll, perm))
			assertOrder(t, svc, ScopeAll, perm)
		}
	})

	t.Run("SetOrderDropsMissing", func(t *testing.T) {
		svc, ctx := setup(t)
		for _, id := range []string{"a", "b", "c"} {
			ingest(t, svc, id, ScopeFav)
		}
		require.NoError(t, svc.SetOrder(ctx, ScopeFav, []string{"c", "a"}))
		assertOrder(t, svc, ScopeFav, []string{"c", "a"})
		assertOrder(t, svc, ScopeAll, []string{"a", "b", "c"})
	})

	t.Run("SetOrderGlobalMismatch", func(t *testing.T) {
		svc, ctx := setup(t)
		ingest(t, svc, "a", "")
		ingest(t, svc, "b", "")

		err := svc.SetOrder(ctx, ScopeAll, []string{"b"})
		assert.ErrorIs(t, err, ErrOrderMismatch)
		assertOrder(t, svc, ScopeAll, []string{"a", "b"})
	})

	t.Run("SetOrderValidation", func(t *testing.T) {
		svc, ctx := setup(t)
		ingest(t, svc, "a", "")

		assert.ErrorIs(t, svc.SetOrder(ctx, ScopeFav, []string{"a", "a"}), ErrInvalidInput)
		assert.ErrorIs(t, svc.SetOrder(ctx, ScopeFav, []string{""}), ErrInvalidInput)
		assert.ErrorIs(t, svc.SetOrder(ctx, "", []string{"a"}), ErrInvalidInput)
		assert.ErrorIs(t, svc.SetOrder(ctx, "no-such-playlist", []string{"a"}), ErrNotFound)
	})

	t.Run("SongCascade", func(t *testing.T) {
		svc, ctx := setup(t)
		p, err := svc.CreatePlaylist(ctx, "p")
		require.NoError(t, err)
		ingest(t, svc, "a", p.ID)
		ingest(t, svc, "b", ScopeFav)
		_, err = svc.ToggleMembership(ctx, ScopeFav, "a", true)
		require.NoError(t, err)

		removed, err := svc.RemoveFromScope(ctx, ScopeAll, "a")
		require.NoError(t, err)
		assert.True(t, removed)

		for _, scope := range []string{ScopeAll, ScopeFav, p.ID} {
			assert.NotContains(t, read(t, svc, scope), "a", scope)
		}
		snap := svc.Snapshot(ctx)
		for _, sg := range snap.Songs {
			assert.NotEqual(t, "a", sg.FileID)
		}

		removed, err = svc.RemoveSongEverywhere(ctx, "a")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("RemoveFromSingleScope", func(t *testing.T) {
		svc, ctx := setup(t)
		ingest(t, svc, "a", ScopeFav)

		removed, err := svc.RemoveFromScope(ctx, ScopeFav, "a")
		require.NoError(t, err)
		assert.True(t, removed)
		assertOrder(t, svc, ScopeFav, []string{})
		assertOrder(t, svc, ScopeAll, []string{"a"})
	})

	t.Run("PlaylistCascade", func(t *testing.T) {
		svc, ctx := setup(t)
		p, err := svc.CreatePlaylist(ctx, "gone soon")
		require.NoError(t, err)
		ingest(t, svc, "a", p.ID)
		ingest(t, svc, "b", p.ID)

		require.NoError(t, svc.DeletePlaylist(ctx, p.ID))
		assertOrder(t, svc, p.ID, []string{})
		assertOrder(t, svc, ScopeAll, []string{"a", "b"})
		assert.Empty(t, svc.Snapshot(ctx).Playlists)

		// absent playlist is a no-op
		require.NoError(t, svc.DeletePlaylist(ctx, p.ID))
		_, err = svc.ToggleMembership(ctx, p.ID, "a", true)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ReservedScopes", func(t *testing.T) {
		svc, ctx := setup(t)
		assert.ErrorIs(t, svc.DeletePlaylist(ctx, ScopeFav), ErrReservedScope)
		assert.ErrorIs(t, svc.RenamePlaylist(ctx, ScopeAll, "x"), ErrReservedScope)
	})

	t.Run("PlaylistCRUD", func(t *testing.T) {
		svc, ctx := setup(t)
		first, err := svc.CreatePlaylist(ctx, "  first  ")
		require.NoError(t, err)
		assert.Equal(t, "first", first.Name)
		assert.Len(t, first.ID, 36)
		second, err := svc.CreatePlaylist(ctx, "second")
		require.NoError(t, err)

		require.NoError(t, svc.RenamePlaylist(ctx, first.ID, "renamed"))
		assert.ErrorIs(t, svc.RenamePlaylist(ctx, "missing", "x"), ErrNotFound)
		_, err = svc.CreatePlaylist(ctx, "   ")
		assert.ErrorIs(t, err, ErrInvalidInput)

		snap := svc.Snapshot(ctx)
		require.Len(t, snap.Playlists, 2)
		assert.Equal(t, PlaylistView{ID: first.ID, Name: "renamed", IDs: []string{}}, snap.Playlists[0])
		assert.Equal(t, second.ID, snap.Playlists[1].ID)
	})

	t.Run("UpdateSong", func(t *testing.T) {
		svc, ctx := setup(t)
		ingest(t, svc, "a", "")

		require.NoError(t, svc.UpdateSong(ctx, "a", "New Title", "New Artist"))
		snap := svc.Snapshot(ctx)
		require.Len(t, snap.Songs, 1)
		assert.Equal(t, "New Title", snap.Songs[0].Title)
		assert.Equal(t, "New Artist", snap.Songs[0].Artist)

		assert.ErrorIs(t, svc.UpdateSong(ctx, "ghost", "t", "a"), ErrNotFound)
	})

	t.Run("IngestUpsertKeepsPosition", func(t *testing.T) {
		svc, ctx := setup(t)
		ingest(t, svc, "a", "")
		ingest(t, svc, "b", "")
		first := svc.Snapshot(ctx).Songs[0]

		saved, err := svc.Ingest(ctx, Song{FileID: "a", Title: "retitled"}, ScopeFav)
		require.NoError(t, err)
		assert.True(t, first.CreatedAt.Equal(saved.CreatedAt))
		assertOrder(t, svc, ScopeAll, []string{"a", "b"})
		assertOrder(t, svc, ScopeFav, []string{"a"})
		assert.Equal(t, "retitled", svc.Snapshot(ctx).Songs[0].Title)
	})

	t.Run("IngestMissingTargetIsAtomic", func(t *testing.T) {
		svc, ctx := setup(t)
		_, err := svc.Ingest(ctx, Song{FileID: "a", Title: "a"}, "no-such-playlist")
		assert.ErrorIs(t, err, ErrNotFound)

		snap := svc.Snapshot(ctx)
		assert.Empty(t, snap.Songs)
		assert.Empty(t, snap.AllOrder)
	})

	t.Run("CheckTarget", func(t *testing.T) {
		svc, ctx := setup(t)
		p, err := svc.CreatePlaylist(ctx, "X")
		require.NoError(t, err)

		assert.NoError(t, svc.CheckTarget(ctx, ""))
		assert.NoError(t, svc.CheckTarget(ctx, ScopeAll))
		assert.NoError(t, svc.CheckTarget(ctx, p.ID))
		assert.NoError(t, svc.CheckTarget(ctx, ScopeFav))
		assert.ErrorIs(t, svc.CheckTarget(ctx, "no-such-playlist"), ErrNotFound)

		require.NoError(t, svc.DeletePlaylist(ctx, p.ID))
		assert.ErrorIs(t, svc.CheckTarget(ctx, p.ID), ErrNotFound)
	})

	t.Run("SetOrderUnknownSongIsAtomic", func(t *testing.T) {
		svc, ctx := setup(t)
		for _, id := range []string{"a", "b"} {
			ingest(t, svc, id, ScopeFav)
		}
		err := svc.SetOrder(ctx, ScopeFav, []string{"b", "ghost", "a"})
		assert.ErrorIs(t, err, ErrNotFound)
		assertOrder(t, svc, ScopeFav, []string{"a", "b"})
	})

	t.Run("BulkReplace", func(t *testing.T) {
		svc, ctx := setup(t)
		ingest(t, svc, "old", ScopeFav)

		err := svc.BulkReplace(ctx, Import{
			Songs:     []Song{{FileID: "x", Title: "X"}, {FileID: "y", Title: "Y"}, {FileID: "z", Title: "Z"}},
			Favorites: []string{"z", "x"},
			Playlists: []PlaylistView{
				{ID: "11111111-1111-1111-1111-111111111111", Name: "one", IDs: []string{"y"}},
				{Name: "two", IDs: []string{"z", "y"}},
			},
		})
		require.NoError(t, err)

		snap := svc.Snapshot(ctx)
		assert.Equal(t, []string{"x", "y", "z"}, snap.AllOrder)
		assert.Equal(t, []string{"z", "x"}, snap.Favorites)
		require.Len(t, snap.Playlists, 2)
		assert.Equal(t, "one", snap.Playlists[0].Name)
		assert.Equal(t, []string{"y"}, snap.Playlists[0].IDs)
		assert.Equal(t, "two", snap.Playlists[1].Name)
		assert.NotEmpty(t, snap.Playlists[1].ID)
		assert.Equal(t, []string{"z", "y"}, snap.Playlists[1].IDs)
	})

	t.Run("BulkReplaceFailureKeepsState", func(t *testing.T) {
		svc, ctx := setup(t)
		ingest(t, svc, "keep", ScopeFav)
		before := svc.Snapshot(ctx)

		err := svc.BulkReplace(ctx, Import{
			Songs:     []Song{{FileID: "x"}},
			Favorites: []string{"x", "ghost"},
		})
		assert.ErrorIs(t, err, ErrNotFound)

		err = svc.BulkReplace(ctx, Import{
			Songs:     []Song{{FileID: "x"}},
			Playlists: []PlaylistView{{ID: ScopeFav, Name: "fav"}},
		})
		assert.ErrorIs(t, err, ErrReservedScope)

		assert.Equal(t, before, svc.Snapshot(ctx))
	})

	t.Run("SnapshotCompleteness", func(t *testing.T) {
		svc, ctx := setup(t)
		p, err := svc.CreatePlaylist(ctx, "p")
		require.NoError(t, err)
		ingest(t, svc, "a", p.ID)
		ingest(t, svc, "b", ScopeFav)
		ingest(t, svc, "c", "")

		snap := svc.Snapshot(ctx)
		count := map[string]int{}
		for _, sg := range snap.Songs {
			count[sg.FileID]++
		}
		for id, n := range count {
			assert.Equal(t, 1, n, id)
		}
		var referenced []string
		referenced = append(referenced, snap.AllOrder...)
		referenced = append(referenced, snap.Favorites...)
		for _, pv := range snap.Playlists {
			referenced = append(referenced, pv.IDs...)
		}
		for _, id := range referenced {
			assert.Contains(t, count, id)
		}
		assert.Len(t, snap.Songs, 3)
	})

	t.Run("UploadLogs", func(t *testing.T) {
		svc, ctx := setup(t)
		require.NoError(t, svc.LogUpload(ctx, "one.mp3", UploadSuccess, ""))
		require.NoError(t, svc.LogUpload(ctx, "two.flac", UploadFail, "too large"))

		logs, err := svc.UploadLogs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "two.flac", logs[0].Filename)
		assert.Equal(t, UploadFail, logs[0].Status)
		assert.Equal(t, "too large", logs[0].Reason)

		logs, err = svc.UploadLogs(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, logs, 1)

		require.NoError(t, svc.ClearUploadLogs(ctx))
		logs, err = svc.UploadLogs(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, logs)
	})
}
