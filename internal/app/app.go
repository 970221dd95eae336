package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/specialistvlad/lazymod/internal/cache"
	"github.com/specialistvlad/lazymod/internal/ctxlog"
	"github.com/specialistvlad/lazymod/internal/filestore"
	"github.com/specialistvlad/lazymod/internal/inmemorystore"
	"github.com/specialistvlad/lazymod/internal/jsengine"
	"github.com/specialistvlad/lazymod/internal/loader"
	"github.com/specialistvlad/lazymod/internal/manifest"
	"github.com/specialistvlad/lazymod/internal/metrics"
	"github.com/specialistvlad/lazymod/internal/server"
	"github.com/specialistvlad/lazymod/internal/stats"
	"github.com/specialistvlad/lazymod/internal/transport/filefetch"
	"github.com/specialistvlad/lazymod/internal/transport/httpfetch"
	"github.com/specialistvlad/lazymod/internal/transport/socketfetch"
	"github.com/specialistvlad/lazymod/plugins/parallel"
	"github.com/specialistvlad/lazymod/plugins/plaincode"
	"github.com/specialistvlad/lazymod/plugins/shortcuts"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	loader   *loader.Loader
	host     *jsengine.Engine
	stats    *stats.Engine
	registry *prometheus.Registry
	server   *server.Server
	closers  []func()
}

// NewApp is the constructor for the main application. It loads the bundle and
// builds every collaborator of the loader, each with the app's own logger.
func NewApp(outW io.Writer, cfg *Config) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	m, err := manifest.Load(ctx, cfg.Vars, cfg.BundlePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load bundle manifest: %w", err)
	}

	a := &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		host:     jsengine.New(),
		stats:    stats.New(),
		registry: prometheus.NewRegistry(),
	}

	bundle, err := m.Bundle(a.host)
	if err != nil {
		return nil, fmt.Errorf("failed to compile bundle entry point: %w", err)
	}

	store, err := a.newStore(ctx, m.Version)
	if err != nil {
		return nil, err
	}
	next, err := a.newTransport(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	opts := []loader.Option{
		loader.WithHost(a.host),
		loader.WithTransport(cache.ReadThrough(store, m.Version, next)),
		loader.WithCache(store),
		loader.WithPlugins(
			a.host,
			shortcuts.Plugin{},
			parallel.Plugin{},
			plaincode.Plugin{},
			a.stats,
			metrics.New(a.registry),
		),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, loader.WithTimeout(cfg.Timeout))
	}
	a.loader = loader.New(ctx, bundle, opts...)

	if cfg.StatusAddr != "" {
		a.server = server.New(ctx, server.Options{
			Addr:     cfg.StatusAddr,
			Version:  m.Version,
			Stats:    a.stats,
			Gatherer: a.registry,
		})
	}

	logger.Debug("App created.", "modules", len(bundle.Modules), "version", m.Version, "source", cfg.Source)
	return a, nil
}

func (a *App) newStore(ctx context.Context, version string) (cache.Store, error) {
	if a.config.CacheDir == "" {
		return inmemorystore.New(), nil
	}
	fs, err := filestore.New(a.config.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache directory: %w", err)
	}
	if version != "" {
		if _, err := fs.Prune(ctx, version); err != nil {
			a.logger.Warn("Cache pruning failed.", "dir", a.config.CacheDir, "error", err)
		}
	}
	return fs, nil
}

// newTransport picks the transport from the source scheme. A nil transport
// leaves the cache as the only off-package source.
func (a *App) newTransport(ctx context.Context) (loader.Transport, error) {
	source := a.config.Source
	if source == "" {
		a.logger.Warn("No module source configured, off-package requests are served from cache only.")
		return nil, nil
	}

	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || u.Scheme == "file" {
		dir := source
		if err == nil && u.Scheme == "file" {
			dir = u.Path
		}
		return filefetch.NewDir(dir), nil
	}

	switch u.Scheme {
	case "http", "https":
		t, err := httpfetch.New(source)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, t.Close)
		return t, nil
	case "ws", "wss":
		u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
		t, err := socketfetch.Dial(ctx, u.String(), socketfetch.Options{
			Namespace:          a.config.SocketNamespace,
			InsecureSkipVerify: a.config.InsecureSkipVerify,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, t.Close)
		return t, nil
	}
	return nil, fmt.Errorf("unsupported module source scheme %q", u.Scheme)
}

func (a *App) close() {
	for _, c := range a.closers {
		c()
	}
	a.closers = nil
}

// Loader returns the application's loader. This is primarily for testing.
func (a *App) Loader() *loader.Loader { return a.loader }

// Stats returns the statistics engine.
func (a *App) Stats() *stats.Engine { return a.stats }

// StatusHandler returns the status server handler, or nil when disabled.
func (a *App) StatusHandler() http.Handler {
	if a.server == nil {
		return nil
	}
	return a.server.Handler()
}
