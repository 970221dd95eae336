package loader

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoCompiler is returned by hosts that cannot turn source text into code.
var ErrNoCompiler = errors.New("host cannot compile source text")

// Host is the execution environment the registry falls back on.
type Host interface {
	// Global looks up a host global of the given name.
	Global(name string) (any, bool)
	// Compile turns function-literal source text taking (require, exports,
	// module) into a Factory.
	Compile(name, src string) (Factory, error)
}

// ScriptRunner is implemented by hosts that can execute a script in their
// global scope. Script requests use it when available.
type ScriptRunner interface {
	RunScript(name, src string) error
}

// Globals is a Host backed by a plain map. It cannot compile source text.
type Globals map[string]any

func (g Globals) Global(name string) (any, bool) {
	v, ok := g[name]
	return v, ok
}

func (g Globals) Compile(name, _ string) (Factory, error) {
	return nil, fmt.Errorf("module %q: %w", name, ErrNoCompiler)
}

// Request identifies one fetch.
type Request struct {
	Name   string
	Flavor Flavor
}

// Response is a successful fetch.
type Response struct {
	Body        []byte
	ContentType string
}

// Transport performs fetches. Implementations must honor ctx cancellation; the
// loader bounds every fetch with its timeout.
type Transport interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req Request) (*Response, error)

func (f TransportFunc) Fetch(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Cache is the best-effort persistent store for fetched payloads.
type Cache interface {
	Put(ctx context.Context, key string, value []byte) error
}

// CacheKey is the key a fetched payload is persisted under.
func CacheKey(version, name string) string {
	return "cache:" + version + ":" + name
}

// ContentTypeKey is the key the content type of a persisted payload is stored
// under, next to CacheKey.
func ContentTypeKey(version, name string) string {
	return CacheKey(version, name) + contentTypeSuffix
}

const contentTypeSuffix = "#content-type"
