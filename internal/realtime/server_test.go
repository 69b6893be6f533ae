package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wliuy/TGmusic/internal/library"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func dial(t *testing.T, srv *httptest.Server, origin string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestServer_HandleWS(t *testing.T) {
	hub, _ := startHub(t)
	var clients atomic.Int32
	hub.OnCount(func(n int) { clients.Store(int32(n)) })

	s := NewServer(hub, "*", nil)
	srv := httptest.NewServer(http.HandlerFunc(s.HandleWS))
	defer srv.Close()

	ws1 := dial(t, srv, "")
	ws2 := dial(t, srv, "http://anywhere.example")
	assert.Equal(t, "welcome", readJSON(t, ws1)["type"])
	assert.Equal(t, "welcome", readJSON(t, ws2)["type"])
	require.Eventually(t, func() bool { return clients.Load() == 2 }, time.Second, 10*time.Millisecond)

	pub := NewHubPublisher(hub)
	require.NoError(t, pub.Publish(context.Background(), library.Event{
		Type:    library.EventOrderChanged,
		Payload: map[string]any{"playlist_id": "fav"},
	}))

	for _, ws := range []*websocket.Conn{ws1, ws2} {
		msg := readJSON(t, ws)
		assert.Equal(t, library.EventOrderChanged, msg["type"])
		assert.Equal(t, map[string]any{"playlist_id": "fav"}, msg["payload"])
	}

	ws1.Close()
	require.Eventually(t, func() bool { return clients.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ForbiddenOrigin(t *testing.T) {
	hub, _ := startHub(t)
	s := NewServer(hub, "http://player.example", nil)
	srv := httptest.NewServer(http.HandlerFunc(s.HandleWS))
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws := dial(t, srv, "http://player.example")
	assert.Equal(t, "welcome", readJSON(t, ws)["type"])
}

func TestHub_StopDisconnectsClients(t *testing.T) {
	hub, cancel := startHub(t)
	s := NewServer(hub, "", nil)
	srv := httptest.NewServer(http.HandlerFunc(s.HandleWS))
	defer srv.Close()

	ws := dial(t, srv, "")
	readJSON(t, ws)

	cancel()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)

	// a stopped hub refuses broadcasts without blocking
	assert.NoError(t, hub.Broadcast(context.Background(), []byte("late")))
}

func TestRunRedisSubscriber(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	hub, _ := startHub(t)
	s := NewServer(hub, "*", nil)
	srv := httptest.NewServer(http.HandlerFunc(s.HandleWS))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunRedisSubscriber(ctx, rdb, DefaultChannel, hub, nil)
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(DefaultChannel)[DefaultChannel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	ws := dial(t, srv, "")
	readJSON(t, ws)

	pub := NewRedisPublisher(rdb, "")
	require.NoError(t, pub.Publish(context.Background(), library.Event{
		Type:    library.EventSongDeleted,
		Payload: map[string]any{"file_id": "AUD1"},
	}))

	msg := readJSON(t, ws)
	assert.Equal(t, library.EventSongDeleted, msg["type"])
	assert.Equal(t, "AUD1", msg["payload"].(map[string]any)["file_id"])
}
