package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/wliuy/TGmusic/internal/api"
	"github.com/wliuy/TGmusic/internal/config"
	"github.com/wliuy/TGmusic/internal/ingest"
	"github.com/wliuy/TGmusic/internal/library"
	"github.com/wliuy/TGmusic/internal/metrics"
	"github.com/wliuy/TGmusic/internal/realtime"
	"github.com/wliuy/TGmusic/internal/telegram"
)

const shutdownTimeout = 10 * time.Second

// app is a fully wired service, ready to run.
type app struct {
	handler http.Handler
	hub     *realtime.Hub
	rdb     *redis.Client
	channel string
}

func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	store, release, err := r.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		if rdb, err = openRedis(ctx, cfg.Redis.URL); err != nil {
			return err
		}
		defer rdb.Close()
	}

	a := r.buildApp(cfg, store, rdb)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.hub.Run(ctx)
	if a.rdb != nil {
		go realtime.RunRedisSubscriber(ctx, a.rdb, a.channel, a.hub, r.logger)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("listening", "addr", srv.Addr, "store", cfg.Store.Driver, "redis", rdb != nil, "gate", cfg.GateEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	r.logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// buildApp wires the components. With Redis, events travel through pub/sub
// so every replica sees them, and file paths are cached there.
func (r *Runner) buildApp(cfg *config.Config, store library.Store, rdb *redis.Client) *app {
	m := metrics.New()
	hub := realtime.NewHub()
	hub.OnCount(func(n int) { m.WSClients.Set(float64(n)) })

	channel := cfg.Redis.Channel
	if channel == "" {
		channel = realtime.DefaultChannel
	}

	tgOpts := []telegram.Option{telegram.WithLogger(r.logger)}
	var sink library.Publisher = realtime.NewHubPublisher(hub)
	if rdb != nil {
		sink = realtime.NewRedisPublisher(rdb, channel)
		tgOpts = append(tgOpts, telegram.WithPathCache(
			telegram.NewRedisPathCache(rdb, cfg.Telegram.FileCacheTTL, r.logger)))
	}
	pub := library.PublisherFunc(func(ctx context.Context, ev library.Event) error {
		err := sink.Publish(ctx, ev)
		m.ObserveEvent(ev.Type, err)
		return err
	})

	tg := telegram.NewClient(telegram.Config{
		Token:             cfg.Telegram.BotToken,
		ChatID:            cfg.Telegram.ChatID,
		BaseURL:           cfg.Telegram.APIBaseURL,
		Timeout:           cfg.Telegram.Timeout,
		RequestsPerSecond: cfg.Telegram.RequestsPerS,
	}, tgOpts...)
	if !tg.Configured() {
		r.logger.Warn("telegram bot token or chat id missing, uploads and streaming will fail")
	}

	lib := library.NewService(store, pub, r.logger)
	uploader := ingest.NewService(tg, lib, cfg.Server.MaxUploadBytes, r.logger)
	feed := realtime.NewServer(hub, cfg.Server.CORSOrigin, r.logger)

	srv := api.NewServer(api.Options{
		Library:  lib,
		Uploader: uploader,
		Files:    tg,
		Feed:     http.HandlerFunc(feed.HandleWS),
		Metrics:  m,
		Auth:     cfg.Auth,
		Server:   cfg.Server,
		Logger:   r.logger,
	})

	return &app{
		handler: srv.Router(),
		hub:     hub,
		rdb:     rdb,
		channel: channel,
	}
}
