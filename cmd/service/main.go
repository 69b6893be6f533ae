package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/wliuy/TGmusic/internal/shared"
)

var version = "dev"

func main() {
	logger := shared.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := NewRunner(RunnerOpts{Logger: logger})

	app := &cli.Command{
		Name:           "tgmusic",
		Usage:          "Personal music library backed by a Telegram chat",
		Version:        version,
		DefaultCommand: "serve",
		Commands:       runner.register(),
	}

	if err := app.Run(ctx, os.Args); err != nil {
		logger.Fatal("application error", "err", err)
	}
}
