package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
	"github.com/urfave/cli/v3"

	"github.com/wliuy/TGmusic/internal/config"
	"github.com/wliuy/TGmusic/internal/library"
	"github.com/wliuy/TGmusic/internal/shared"
)

// Runner holds the dependencies of the CLI commands.
type Runner struct {
	logger *log.Logger
	output io.Writer
	// store, when set, is used instead of opening the configured one.
	store library.Store
}

type RunnerOpts struct {
	Logger *log.Logger
	Output io.Writer
	Store  library.Store
}

func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{
		logger: opts.Logger,
		output: opts.Output,
		store:  opts.Store,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		serveCommand, migrateCommand, importCommand, exportCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

func (r *Runner) loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
		r.logger.SetLevel(lvl)
	} else {
		r.logger.Warn("unknown log level, keeping default", "level", cfg.Log.Level)
	}
	return cfg, nil
}

// openStore returns the configured store and a func releasing it. Postgres
// schemas are migrated on open.
func (r *Runner) openStore(ctx context.Context, cfg *config.Config) (library.Store, func(), error) {
	if r.store != nil {
		return r.store, func() {}, nil
	}
	if cfg.Store.Driver == config.DriverMemory {
		r.logger.Warn("using the in-memory store, nothing will be persisted")
		return library.NewMemoryStore(), func() {}, nil
	}

	pool, err := r.openPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := library.AutoMigrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return library.NewPostgresStore(pool), pool.Close, nil
}

func (r *Runner) openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("pg: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg ping: %w", err)
	}
	return pool, nil
}

func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Store.Driver != config.DriverPostgres {
		r.logger.Info("nothing to migrate", "driver", cfg.Store.Driver)
		return nil
	}

	pool, err := r.openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	r.logger.Info("running database migrations")
	if err := library.AutoMigrate(ctx, pool); err != nil {
		return err
	}
	r.logger.Info("migrations complete")
	return nil
}

// Import replaces the library with a JSON file. An export of this program
// is a valid input.
func (r *Runner) Import(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	path := cmd.String("file")
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	imp, err := decodeImport(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	store, release, err := r.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	svc := library.NewService(store, nil, r.logger)
	if err := svc.BulkReplace(ctx, imp); err != nil {
		return err
	}
	r.logger.Info("library imported",
		"songs", len(imp.Songs), "favorites", len(imp.Favorites), "playlists", len(imp.Playlists))
	return nil
}

func decodeImport(raw []byte) (library.Import, error) {
	std, err := hujson.Standardize(raw)
	if err != nil {
		return library.Import{}, err
	}
	var imp library.Import
	if err := json.Unmarshal(std, &imp); err != nil {
		return library.Import{}, err
	}
	return imp, nil
}

func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	store, release, err := r.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	st, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load library: %w", err)
	}
	data, err := json.MarshalIndent(library.BuildSnapshot(st), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	path := cmd.String("file")
	if path == "" {
		_, err := r.output.Write(data)
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	r.logger.Info("library exported", "file", path, "songs", len(st.Songs))
	return nil
}
