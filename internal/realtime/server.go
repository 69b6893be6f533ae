package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/wliuy/TGmusic/internal/library"
	"github.com/wliuy/TGmusic/internal/shared"
)

// DefaultChannel is the Redis pub/sub channel carrying change events.
const DefaultChannel = "broadcast"

type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      *log.Logger
}

// NewServer accepts websocket handshakes from allowedOrigin, or from any
// origin when it is "*" or empty.
func NewServer(hub *Hub, allowedOrigin string, logger *log.Logger) *Server {
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
		log: shared.Component(logger, "realtime"),
	}
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("ws upgrade", "err", err)
		return
	}

	client := newClient(s.hub, conn)

	// queued before join: once registered, only the hub may close send
	welcome := map[string]any{
		"type": "welcome",
		"now":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.Marshal(welcome); err == nil {
		client.send <- b
	}

	if !s.hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// RunRedisSubscriber forwards every message on channel to the hub until ctx
// is done.
func RunRedisSubscriber(ctx context.Context, rdb *redis.Client, channel string, hub *Hub, logger *log.Logger) {
	l := shared.Component(logger, "realtime")
	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := hub.Broadcast(ctx, []byte(msg.Payload)); err != nil {
				l.Debug("broadcast", "err", err)
				return
			}
		}
	}
}

// RedisPublisher publishes library events to a Redis channel, so every
// replica's hub receives them.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev library.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, data).Err()
}

// HubPublisher hands events straight to an in-process hub. Used when no
// Redis is configured.
type HubPublisher struct {
	hub *Hub
}

func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(ctx context.Context, ev library.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.hub.Broadcast(ctx, data)
}
