// Package app provides the top-level application lifecycle management for the
// estate market daemon. It wires together all dependencies (stores, caches,
// blob storage, the settlement engine, the HTTP API and notifications) and
// starts the appropriate goroutines based on the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/estatemarket/internal/config"
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

// modeFunc runs one operating mode over wired dependencies.
type modeFunc func(*App, context.Context, *Dependencies) error

var modes = map[string]modeFunc{
	"server":  (*App).ServerMode,
	"archive": (*App).ArchiveMode,
	"full":    (*App).FullMode,
}

// Run resolves the operating mode, wires the dependencies it needs and blocks
// in that mode until ctx is cancelled or the mode returns. An unknown mode
// fails before any connection is opened.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("owner", a.cfg.Market.Owner),
		slog.Bool("postgres", a.cfg.Postgres.Enabled),
		slog.Bool("redis", a.cfg.Redis.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return run(a, ctx, deps)
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
