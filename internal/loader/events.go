package loader

import "github.com/specialistvlad/lazymod/internal/pipeline"

type none = pipeline.None

// Events are the extension points of the loader. Each field is an ordered
// pipeline whose handlers may rewrite the in-flight arguments.
type Events struct {
	// BeforeRegister fires when a name starts initializing: (name, content, origin).
	BeforeRegister *pipeline.Pipeline[string, any, Origin]
	// DecorateRequire lets plugins wrap the resolver given to a factory.
	DecorateRequire *pipeline.Pipeline[string, Resolver, none]
	// EnvironmentModule resolves absent content before host globals are consulted.
	EnvironmentModule *pipeline.Pipeline[string, any, none]
	// AfterRegister post-processes the final value: (name, value).
	AfterRegister *pipeline.Pipeline[string, any, none]
	// BeforeCheck fires before the initialized check: (name, content, flavor).
	BeforeCheck *pipeline.Pipeline[string, any, Flavor]
	// RewriteShortcut may substitute (name, content) before initialization.
	RewriteShortcut *pipeline.Pipeline[string, any, none]
	// BeforeResolve fires when a shortcut is followed: (alias, shortcut text).
	BeforeResolve *pipeline.Pipeline[string, string, none]
	// BeforeInit fires right before content is evaluated: (name, content).
	BeforeInit *pipeline.Pipeline[string, any, none]
	// WrapModule may rewrite fetched text: (name, text, content type).
	WrapModule *pipeline.Pipeline[string, string, string]
	// RequestOffPackage fires for every single-name request.
	RequestOffPackage *pipeline.Pipeline[string, Callback, Flavor]
	// RequestParallel receives batch requests; a handler must dispatch them.
	RequestParallel *pipeline.Pipeline[[]string, BatchCallback, Flavor]
	// RequestRace fires after a callback joined a race: (name, callback, queue length).
	RequestRace *pipeline.Pipeline[string, Callback, int]
	// RequestError fires when a fetch fails: (name, error, flavor).
	RequestError *pipeline.Pipeline[string, error, Flavor]
}

func newEvents() *Events {
	return &Events{
		BeforeRegister:    pipeline.New[string, any, Origin]("before-register"),
		DecorateRequire:   pipeline.New[string, Resolver, none]("decorate-require"),
		EnvironmentModule: pipeline.New[string, any, none]("request-environment-module"),
		AfterRegister:     pipeline.New[string, any, none]("after-register"),
		BeforeCheck:       pipeline.New[string, any, Flavor]("before-check"),
		RewriteShortcut:   pipeline.New[string, any, none]("rewrite-shortcut"),
		BeforeResolve:     pipeline.New[string, string, none]("before-resolve"),
		BeforeInit:        pipeline.New[string, any, none]("before-init"),
		WrapModule:        pipeline.New[string, string, string]("wrap-module"),
		RequestOffPackage: pipeline.New[string, Callback, Flavor]("request-off-package"),
		RequestParallel:   pipeline.New[[]string, BatchCallback, Flavor]("request-parallel"),
		RequestRace:       pipeline.New[string, Callback, int]("request-race"),
		RequestError:      pipeline.New[string, error, Flavor]("request-error"),
	}
}
