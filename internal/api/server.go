// Package api is the HTTP surface of the player: snapshot, action dispatch,
// upload, the audio stream proxy and the change feed.
package api

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wliuy/TGmusic/internal/config"
	"github.com/wliuy/TGmusic/internal/ingest"
	"github.com/wliuy/TGmusic/internal/library"
	"github.com/wliuy/TGmusic/internal/metrics"
	"github.com/wliuy/TGmusic/internal/shared"
)

const (
	ServiceName = "tgmusic"

	maxManageBody = 1 << 20
	// room for the cover and meta parts next to the audio
	uploadOverhead = 10 << 20
)

type Library interface {
	Snapshot(ctx context.Context) library.Snapshot
	ReadScope(ctx context.Context, scope string) ([]string, error)
	UpdateSong(ctx context.Context, fileID, title, artist string) error
	RemoveFromScope(ctx context.Context, scope, fileID string) (bool, error)
	RemoveSongEverywhere(ctx context.Context, fileID string) (bool, error)
	ToggleMembership(ctx context.Context, scope, fileID string, present bool) (bool, error)
	SetOrder(ctx context.Context, scope string, ids []string) error
	CreatePlaylist(ctx context.Context, name string) (library.Playlist, error)
	RenamePlaylist(ctx context.Context, id, name string) error
	DeletePlaylist(ctx context.Context, id string) error
	UploadLogs(ctx context.Context, limit int) ([]library.UploadLog, error)
	ClearUploadLogs(ctx context.Context) error
}

type Uploader interface {
	Upload(ctx context.Context, up ingest.Upload) (library.Song, error)
}

// Files resolves file ids to downloadable URLs on the audio host.
type Files interface {
	FilePath(ctx context.Context, fileID string) (string, error)
	FileURL(filePath string) string
	ForgetPath(ctx context.Context, fileID string)
}

type Options struct {
	Library  Library
	Uploader Uploader
	Files    Files
	// Feed serves the websocket change feed. Nil leaves /ws unrouted.
	Feed    http.Handler
	Metrics *metrics.Metrics
	Auth    config.AuthConfig
	Server  config.ServerConfig
	// Transport carries stream downloads. Nil means http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *log.Logger
}

type Server struct {
	lib       Library
	uploader  Uploader
	files     Files
	feed      http.Handler
	metrics   *metrics.Metrics
	gate      *Gate
	limiter   *ipLimiter
	cfg       config.ServerConfig
	transport http.RoundTripper
	log       *log.Logger
}

func NewServer(opts Options) *Server {
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	cfg := opts.Server
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = ingest.DefaultMaxSize
	}
	return &Server{
		lib:       opts.Library,
		uploader:  opts.Uploader,
		files:     opts.Files,
		feed:      opts.Feed,
		metrics:   m,
		gate:      NewGate(opts.Auth),
		limiter:   newIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		cfg:       cfg,
		transport: transport,
		log:       shared.Component(opts.Logger, "api"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(corsMiddleware(s.cfg.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  s.log.StandardLog(),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	// scrapers are not rate limited but still need the password
	r.With(s.gate.Middleware).Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.middleware)

		r.With(bodySizeLimitMiddleware(maxManageBody)).Post("/api/session", s.handleSession)

		r.Group(func(r chi.Router) {
			r.Use(s.gate.Middleware)

			r.Get("/api/songs", s.handleSongs)
			r.Get("/api/stream", s.handleStream)
			r.With(bodySizeLimitMiddleware(maxManageBody)).Post("/api/manage", s.handleManage)
			r.With(bodySizeLimitMiddleware(s.cfg.MaxUploadBytes+uploadOverhead)).Post("/api/upload", s.handleUpload)
			if s.feed != nil {
				r.Method(http.MethodGet, "/ws", s.feed)
			}
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
	})
}

func (s *Server) handleSongs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lib.Snapshot(r.Context()))
}
