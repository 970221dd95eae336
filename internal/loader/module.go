package loader

import "fmt"

// Resolver is the require capability handed to module factories.
type Resolver interface {
	Require(name string) any
}

// RequireFunc adapts a function to the Resolver interface.
type RequireFunc func(name string) any

// Require calls f(name).
func (f RequireFunc) Require(name string) any {
	return f(name)
}

type noResolver struct{}

func (noResolver) Require(string) any { return nil }

// NoResolver is passed to sandboxed modules instead of the loader's resolver.
// Every lookup through it yields nil.
var NoResolver Resolver = noResolver{}

// Sandboxed reports whether r is the NoResolver variant.
func Sandboxed(r Resolver) bool {
	_, ok := r.(noResolver)
	return ok
}

// Exports is the mutable container a factory fills in. It is bound under the
// module name while the factory runs so circular requires observe it.
type Exports map[string]any

// Module describes the module being initialized.
type Module struct {
	Name string
	// Exports starts as the placeholder container. Factories may replace it; the
	// final value is used when the factory returns nil.
	Exports any
	// Coverage receives the counters of instrumented code. It is never nil.
	Coverage Coverage
}

// Factory initializes a module. A non-nil return value becomes the module value.
type Factory func(req Resolver, exports Exports, mod *Module) any

// asFactory recognizes factories declared without the named type.
func asFactory(content any) (Factory, bool) {
	switch f := content.(type) {
	case Factory:
		return f, f != nil
	case func(Resolver, Exports, *Module) any:
		return Factory(f), f != nil
	}
	return nil, false
}

type missing struct{ _ byte }

// Missing stands for "no content" in argument slots where nil cannot express an
// override, such as a shortcut that points at itself. Registering Missing
// behaves like registering nil.
var Missing any = &missing{}

func isAbsent(content any) bool {
	return content == nil || content == Missing
}

// Coverage counts execution of instrumented module code.
type Coverage interface {
	Line(module, id string)
	Function(module, id string)
	// Condition records the outcome and returns it unchanged.
	Condition(module, id string, cond bool) bool
}

type noCoverage struct{}

func (noCoverage) Line(string, string)                   {}
func (noCoverage) Function(string, string)               {}
func (noCoverage) Condition(_, _ string, cond bool) bool { return cond }

// CoverageDecl lists the trackable ids of one instrumented module.
type CoverageDecl struct {
	Lines      []string
	Conditions []string
	Functions  []string
}

// ModuleOptions are per-module flags fixed at bundle build time.
type ModuleOptions struct {
	Sandboxed bool
}

// Bundle is everything needed to bootstrap a Loader.
type Bundle struct {
	Main     Factory
	Modules  map[string]any
	Options  map[string]ModuleOptions
	Version  string
	Coverage map[string]CoverageDecl
}

// Origin classifies where a module's content came from.
type Origin string

const (
	InPackage  Origin = "in-package"
	OffPackage Origin = "off-package"
	Global     Origin = "global"
)

// Flavor distinguishes the request kinds.
type Flavor int

const (
	// Sync is a plain Require.
	Sync Flavor = iota
	// Async fetches arbitrary content and registers its parsed value.
	Async
	// Script fetches host-executable script and registers its Element.
	Script
	// Style fetches a style resource and registers its Element.
	Style
	// Preload fetches content and declares it without initializing it.
	Preload
)

func (f Flavor) String() string {
	switch f {
	case Sync:
		return "sync"
	case Async:
		return "async"
	case Script:
		return "js"
	case Style:
		return "css"
	case Preload:
		return "preload"
	}
	return fmt.Sprintf("flavor(%d)", int(f))
}

// Element is the registered value of a loaded script or style resource.
type Element struct {
	Flavor      Flavor
	Name        string
	ContentType string
	Body        []byte
}

// Callback receives the result of a single request; nil means failure or miss.
type Callback func(value any)

// BatchCallback receives batch results in request order.
type BatchCallback func(values ...any)

func noop(any) {}

// InitError is raised when a module cannot be initialized synchronously.
type InitError struct {
	Name string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("module %q failed to initialize: %v", e.Name, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
