package loader

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/specialistvlad/lazymod/internal/ctxlog"
	"github.com/specialistvlad/lazymod/internal/eventloop"
)

// DefaultTimeout bounds every fetch unless WithTimeout says otherwise.
const DefaultTimeout = 3 * time.Second

// Plugin hooks optional behavior into a Loader by registering event handlers.
type Plugin interface {
	Register(l *Loader)
}

// PluginFunc adapts a function to the Plugin interface.
type PluginFunc func(l *Loader)

func (f PluginFunc) Register(l *Loader) { f(l) }

// Option configures a Loader.
type Option func(*Loader)

// WithHost sets the host environment. Defaults to an empty Globals.
func WithHost(h Host) Option {
	return func(l *Loader) { l.host = h }
}

// WithTransport sets the transport used for off-package requests.
func WithTransport(t Transport) Option {
	return func(l *Loader) { l.transport = t }
}

// WithCache sets the store fetched payloads are persisted to.
func WithCache(c Cache) Option {
	return func(l *Loader) { l.cache = c }
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithPlugins appends plugins. They are registered in order once all options
// have been applied.
func WithPlugins(plugins ...Plugin) Option {
	return func(l *Loader) { l.plugins = append(l.plugins, plugins...) }
}

// WithLoop makes the loader post its completions to an existing loop.
func WithLoop(loop *eventloop.Loop) Option {
	return func(l *Loader) { l.loop = loop }
}

// Loader is the module registry together with its race table.
type Loader struct {
	ctx    context.Context
	logger *slog.Logger
	events *Events
	loop   *eventloop.Loop

	host      Host
	transport Transport
	cache     Cache
	timeout   time.Duration
	coverage  Coverage
	plugins   []Plugin

	main        Factory
	version     string
	modules     map[string]any
	initialized map[string]bool
	declared    map[string]bool
	options     map[string]ModuleOptions
	decls       map[string]CoverageDecl
	races       map[string][]Callback
}

// New creates a Loader for bundle. The logger is taken from ctx, and ctx is the
// parent of every fetch the loader issues.
func New(ctx context.Context, bundle Bundle, opts ...Option) *Loader {
	l := &Loader{
		ctx:         ctx,
		logger:      ctxlog.FromContext(ctx),
		events:      newEvents(),
		host:        Globals{},
		timeout:     DefaultTimeout,
		coverage:    noCoverage{},
		main:        bundle.Main,
		version:     bundle.Version,
		modules:     make(map[string]any, len(bundle.Modules)),
		initialized: make(map[string]bool, len(bundle.Modules)),
		declared:    make(map[string]bool, len(bundle.Modules)),
		options:     maps.Clone(bundle.Options),
		decls:       maps.Clone(bundle.Coverage),
		races:       make(map[string][]Callback),
	}
	if l.options == nil {
		l.options = make(map[string]ModuleOptions)
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.loop == nil {
		l.loop = eventloop.New()
	}
	l.Declare(bundle.Modules)

	for _, p := range l.plugins {
		p.Register(l)
	}
	l.logger.Debug("Loader created.", "modules", len(l.modules), "plugins", len(l.plugins), "version", l.version)
	return l
}

// Events exposes the extension points.
func (l *Loader) Events() *Events { return l.events }

// Loop returns the loop completions are posted to.
func (l *Loader) Loop() *eventloop.Loop { return l.loop }

// Logger returns the loader's logger.
func (l *Loader) Logger() *slog.Logger { return l.logger }

// Version is the bundle version stamp used in cache keys.
func (l *Loader) Version() string { return l.version }

// CoverageDecls returns the coverage declarations of the bundle.
func (l *Loader) CoverageDecls() map[string]CoverageDecl { return maps.Clone(l.decls) }

// SetCoverage installs the sink instrumented modules report to. A nil c
// restores the no-op sink.
func (l *Loader) SetCoverage(c Coverage) {
	if c == nil {
		c = noCoverage{}
	}
	l.coverage = c
}

// Content returns what is currently stored under name: declared content, the
// placeholder of an initializing module, or the initialized value.
func (l *Loader) Content(name string) (any, bool) {
	c, ok := l.modules[name]
	return c, ok
}

// Initialized reports whether name has started or finished initializing.
func (l *Loader) Initialized(name string) bool { return l.initialized[name] }

// Options returns the per-module flags of name.
func (l *Loader) Options(name string) ModuleOptions { return l.options[name] }

// Declare stores content for each name and resets its initialized flag, so the
// next Require evaluates the new content.
func (l *Loader) Declare(modules map[string]any) {
	for name, content := range modules {
		l.modules[name] = content
		l.initialized[name] = false
		l.declared[name] = true
	}
}

// Start runs the bundle entry point with the decorated resolver and returns
// its result.
func (l *Loader) Start() any {
	if l.main == nil {
		return nil
	}
	return l.invoke("main", l.main, Exports{})
}

// Post schedules fn on the loader's loop.
func (l *Loader) Post(fn func()) { l.loop.Post(fn) }

// Run drives the loop until every pending request has completed or ctx ends.
func (l *Loader) Run(ctx context.Context) error { return l.loop.Run(ctx) }
