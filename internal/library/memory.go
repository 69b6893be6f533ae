package library

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"
)

type memRow struct {
	position int
	written  int64
}

type memState struct {
	songs     map[string]Song
	playlists map[string]Playlist
	members   map[string]map[string]memRow
	logs      []UploadLog
	logSeq    int64
	writeSeq  int64
}

func newMemState() *memState {
	st := &memState{
		songs:     map[string]Song{},
		playlists: map[string]Playlist{},
		members:   map[string]map[string]memRow{},
	}
	st.playlists[ScopeAll] = Playlist{ID: ScopeAll, Name: "All songs"}
	st.playlists[ScopeFav] = Playlist{ID: ScopeFav, Name: "Favorites"}
	return st
}

func (st *memState) clone() *memState {
	c := &memState{
		songs:     maps.Clone(st.songs),
		playlists: maps.Clone(st.playlists),
		members:   make(map[string]map[string]memRow, len(st.members)),
		logs:      append([]UploadLog(nil), st.logs...),
		logSeq:    st.logSeq,
		writeSeq:  st.writeSeq,
	}
	for scope, rows := range st.members {
		c.members[scope] = maps.Clone(rows)
	}
	return c
}

func (st *memState) order(scope string) []string {
	rows := st.members[scope]
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := rows[ids[i]], rows[ids[j]]
		if a.position != b.position {
			return a.position < b.position
		}
		if a.written != b.written {
			return a.written < b.written
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (st *memState) put(scope, fileID string, position int) {
	rows := st.members[scope]
	if rows == nil {
		rows = map[string]memRow{}
		st.members[scope] = rows
	}
	st.writeSeq++
	rows[fileID] = memRow{position: position, written: st.writeSeq}
}

// appendMember mirrors the foreign keys and the tail insert of the SQL store.
func (st *memState) appendMember(scope, fileID string) (bool, error) {
	if _, ok := st.playlists[scope]; !ok {
		return false, fmt.Errorf("scope %q: %w", scope, ErrNotFound)
	}
	if _, ok := st.songs[fileID]; !ok {
		return false, fmt.Errorf("song %q: %w", fileID, ErrNotFound)
	}
	rows := st.members[scope]
	if _, ok := rows[fileID]; ok {
		return false, nil
	}
	next := 0
	for _, r := range rows {
		if r.position+1 > next {
			next = r.position + 1
		}
	}
	st.put(scope, fileID, next)
	return true, nil
}

// MemoryStore keeps the library in process memory. Writes run against a
// copy of the state that replaces the live one only on success.
type MemoryStore struct {
	mu   sync.RWMutex
	st   *memState
	now  func() time.Time
	last time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState(), now: time.Now}
}

// tick returns a strictly increasing timestamp so created_at ordering is
// deterministic. Callers hold mu.
func (m *MemoryStore) tick() time.Time {
	t := m.now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

func (m *MemoryStore) update(fn func(st *memState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.st.clone()
	if err := fn(next); err != nil {
		return err
	}
	m.st = next
	return nil
}

func (m *MemoryStore) Load(ctx context.Context) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := &State{Orders: map[string][]string{}}
	for _, sg := range m.st.songs {
		st.Songs = append(st.Songs, sg)
	}
	sort.Slice(st.Songs, func(i, j int) bool {
		a, b := st.Songs[i], st.Songs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.FileID < b.FileID
	})
	for id, p := range m.st.playlists {
		if !IsReserved(id) {
			st.Playlists = append(st.Playlists, p)
		}
	}
	sort.Slice(st.Playlists, func(i, j int) bool {
		a, b := st.Playlists[i], st.Playlists[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	for scope, rows := range m.st.members {
		if len(rows) > 0 {
			st.Orders[scope] = m.st.order(scope)
		}
	}
	return st, nil
}

func (m *MemoryStore) ScopeOrder(ctx context.Context, scope string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.order(scope), nil
}

func (m *MemoryStore) PlaylistExists(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.st.playlists[id]
	return ok, nil
}

func (m *MemoryStore) UpdateSong(ctx context.Context, fileID, title, artist string) error {
	return m.update(func(st *memState) error {
		sg, ok := st.songs[fileID]
		if !ok {
			return ErrNotFound
		}
		sg.Title, sg.Artist = title, artist
		st.songs[fileID] = sg
		return nil
	})
}

func (m *MemoryStore) DeleteSong(ctx context.Context, fileID string) (bool, error) {
	var removed bool
	err := m.update(func(st *memState) error {
		for _, rows := range st.members {
			delete(rows, fileID)
		}
		_, removed = st.songs[fileID]
		delete(st.songs, fileID)
		return nil
	})
	return removed, err
}

func (m *MemoryStore) CreatePlaylist(ctx context.Context, p Playlist) (Playlist, error) {
	err := m.update(func(st *memState) error {
		if _, ok := st.playlists[p.ID]; ok {
			return fmt.Errorf("playlist %q exists: %w", p.ID, ErrInvalidInput)
		}
		p.CreatedAt = m.tick()
		st.playlists[p.ID] = p
		return nil
	})
	if err != nil {
		return Playlist{}, err
	}
	return p, nil
}

func (m *MemoryStore) RenamePlaylist(ctx context.Context, id, name string) error {
	return m.update(func(st *memState) error {
		p, ok := st.playlists[id]
		if !ok {
			return ErrNotFound
		}
		p.Name = name
		st.playlists[id] = p
		return nil
	})
}

func (m *MemoryStore) DeletePlaylist(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := m.update(func(st *memState) error {
		_, removed = st.playlists[id]
		delete(st.playlists, id)
		delete(st.members, id)
		return nil
	})
	return removed, err
}

func (m *MemoryStore) ReplaceOrder(ctx context.Context, scope string, ids []string, requireSameSet bool) error {
	return m.update(func(st *memState) error {
		if _, ok := st.playlists[scope]; !ok {
			return fmt.Errorf("scope %q: %w", scope, ErrNotFound)
		}
		if requireSameSet && !sameSet(st.order(scope), ids) {
			return ErrOrderMismatch
		}
		st.members[scope] = map[string]memRow{}
		for i, id := range ids {
			if _, ok := st.songs[id]; !ok {
				return fmt.Errorf("unknown song in order: %w", ErrNotFound)
			}
			st.put(scope, id, i)
		}
		return nil
	})
}

func (m *MemoryStore) AddMember(ctx context.Context, scope, fileID string) (bool, error) {
	var added bool
	err := m.update(func(st *memState) error {
		var err error
		added, err = st.appendMember(scope, fileID)
		return err
	})
	return added, err
}

func (m *MemoryStore) RemoveMember(ctx context.Context, scope, fileID string) (bool, error) {
	var removed bool
	err := m.update(func(st *memState) error {
		if _, ok := st.members[scope][fileID]; ok {
			delete(st.members[scope], fileID)
			removed = true
		}
		return nil
	})
	return removed, err
}

func (m *MemoryStore) Ingest(ctx context.Context, song Song, target string) (Song, error) {
	err := m.update(func(st *memState) error {
		if target != "" && target != ScopeAll {
			if _, ok := st.playlists[target]; !ok {
				return fmt.Errorf("target %q: %w", target, ErrNotFound)
			}
		}
		if prev, ok := st.songs[song.FileID]; ok {
			song.CreatedAt = prev.CreatedAt
		} else {
			song.CreatedAt = m.tick()
		}
		st.songs[song.FileID] = song

		if _, err := st.appendMember(ScopeAll, song.FileID); err != nil {
			return err
		}
		if target != "" && target != ScopeAll {
			if _, err := st.appendMember(target, song.FileID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Song{}, err
	}
	return song, nil
}

func (m *MemoryStore) ReplaceAll(ctx context.Context, imp Import) error {
	return m.update(func(st *memState) error {
		fresh := newMemState()
		fresh.logs, fresh.logSeq, fresh.writeSeq = st.logs, st.logSeq, st.writeSeq

		for i, sg := range imp.Songs {
			if sg.CreatedAt.IsZero() {
				sg.CreatedAt = m.tick()
			}
			fresh.songs[sg.FileID] = sg
			fresh.put(ScopeAll, sg.FileID, i)
		}
		fill := func(scope string, ids []string) error {
			for i, id := range ids {
				if _, ok := fresh.songs[id]; !ok {
					return fmt.Errorf("song %q: %w", id, ErrNotFound)
				}
				fresh.put(scope, id, i)
			}
			return nil
		}
		if err := fill(ScopeFav, imp.Favorites); err != nil {
			return err
		}
		for _, p := range imp.Playlists {
			fresh.playlists[p.ID] = Playlist{ID: p.ID, Name: p.Name, CreatedAt: m.tick()}
			if err := fill(p.ID, p.IDs); err != nil {
				return err
			}
		}
		*st = *fresh
		return nil
	})
}

func (m *MemoryStore) AppendUploadLog(ctx context.Context, entry UploadLog) error {
	return m.update(func(st *memState) error {
		st.logSeq++
		entry.ID = st.logSeq
		entry.CreatedAt = m.tick()
		st.logs = append(st.logs, entry)
		return nil
	})
}

func (m *MemoryStore) UploadLogs(ctx context.Context, limit int) ([]UploadLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []UploadLog{}
	for i := len(m.st.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.st.logs[i])
	}
	return out, nil
}

func (m *MemoryStore) ClearUploadLogs(ctx context.Context) error {
	return m.update(func(st *memState) error {
		st.logs = nil
		return nil
	})
}
