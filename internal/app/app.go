// Package app provides the top-level application lifecycle for the escrow
// bot. It wires together all dependencies and runs the long-lived
// goroutines: the update poller, the expiry sweeper, the event recorder and,
// when enabled, the operator API.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/escrowbot/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, checks the bot token, starts every component
// and blocks until the context is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("postgres", a.cfg.Postgres.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
		slog.Bool("server", a.cfg.Server.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	me, err := deps.Telegram.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("app: verify bot token: %w", err)
	}
	a.logger.InfoContext(ctx, "authorized on telegram",
		slog.String("username", me.Username),
		slog.Int64("bot_id", me.ID),
	)

	return a.serve(ctx, deps)
}

func (a *App) serve(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Recorder.Run(ctx) })
	g.Go(func() error { return deps.Sweeper.Run(ctx) })
	g.Go(func() error { return deps.Poller.Run(ctx) })

	if deps.Server != nil {
		g.Go(func() error { return deps.Hub.Run(ctx) })
		g.Go(func() error { return deps.Server.Run(ctx) })
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
