package cli

import (
	"log/slog"
	"os"

	"github.com/mwald/warden/internal/config"
	"github.com/mwald/warden/internal/engine"
	"github.com/mwald/warden/internal/library"
	"github.com/mwald/warden/internal/store"
)

// app bundles the collaborators a command needs: loaded settings, the
// open store, and (for commands that talk to the library) the HTTP
// client and an engine built on it.
type app struct {
	cfg    *config.Config
	store  *store.Store
	client *library.Client
	engine *engine.Engine
	log    *slog.Logger
}

// setupLogging installs the process-wide slog handler.
func setupLogging(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// openApp loads settings and opens the store. withLibrary additionally
// builds the HTTP client and an engine; commands that only read local
// state skip that.
func openApp(opts *RootOptions, withLibrary bool) (*app, error) {
	log := setupLogging(opts.Verbose)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	a := &app{cfg: cfg, store: st, log: log}
	if withLibrary {
		a.client = library.NewClient(cfg.Library.URL, cfg.Library.AccessKey, cfg.Library.Timeout(), log)
		a.engine = engine.New(st, a.client, a.client, a.client, engine.Config{
			Logger:              log,
			RecentViewThreshold: cfg.Engine.LastViewedThreshold(),
		})
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("error closing database", "error", err)
	}
}
