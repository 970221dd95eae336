package jsengine_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/specialistvlad/lazymod/internal/jsengine"
	"github.com/specialistvlad/lazymod/internal/loader"
	"github.com/specialistvlad/lazymod/plugins/parallel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCoverage struct {
	lines      []string
	conditions map[string]bool
}

func (c *countingCoverage) Line(module, id string)     { c.lines = append(c.lines, module+":"+id) }
func (c *countingCoverage) Function(module, id string) {}
func (c *countingCoverage) Condition(module, id string, cond bool) bool {
	if c.conditions == nil {
		c.conditions = map[string]bool{}
	}
	c.conditions[module+":"+id] = cond
	return cond
}

func newLoader(t *testing.T, e *jsengine.Engine, bundle loader.Bundle, opts ...loader.Option) *loader.Loader {
	t.Helper()
	opts = append([]loader.Option{loader.WithHost(e), loader.WithPlugins(e)}, opts...)
	return loader.New(context.Background(), bundle, opts...)
}

func TestCompile_ReturnValueAndRequire(t *testing.T) {
	e := jsengine.New()
	l := newLoader(t, e, loader.Bundle{Modules: map[string]any{
		"greeting": "hello",
		"main":     `(function(require, exports, module){ return require("greeting") + " world" })`,
	}})

	assert.Equal(t, "hello world", l.Require("main"))
}

func TestCompile_ExportsAndModuleExports(t *testing.T) {
	e := jsengine.New()
	l := newLoader(t, e, loader.Bundle{Modules: map[string]any{
		"filled":   `(function(require, exports){ exports.name = "filled" })`,
		"replaced": `(function(require, exports, module){ module.exports = ["a", "b"] })`,
		"consumer": `(function(require){ return require("filled").name })`,
	}})

	assert.Equal(t, loader.Exports{"name": "filled"}, l.Require("filled"))
	assert.Equal(t, []any{"a", "b"}, l.Require("replaced"))
	assert.Equal(t, "filled", l.Require("consumer"))
}

func TestCompile_SyntaxErrorSurfacesAsInitError(t *testing.T) {
	e := jsengine.New()
	l := newLoader(t, e, loader.Bundle{Modules: map[string]any{
		"broken": `(function(require){ return ( })`,
		"throws": `(function(){ throw new Error("nope") })`,
	}})

	_, err := l.TryRequire("broken")
	var initErr *loader.InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "broken", initErr.Name)

	_, err = l.TryRequire("throws")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	assert.False(t, l.Initialized("throws"))
}

func TestCompile_NonFunctionSource(t *testing.T) {
	_, err := jsengine.New().Compile("odd", "(function(){}, 42)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not evaluate to a function")
}

func TestRunScript_DefinesEnvironmentModules(t *testing.T) {
	e := jsengine.New()
	require.NoError(t, e.RunScript("lib.js", `var lib = { version: "1.2" };`))
	require.NoError(t, e.Set("host", "go"))
	l := newLoader(t, e, loader.Bundle{Modules: map[string]any{"lib": nil}})

	assert.Equal(t, map[string]any{"version": "1.2"}, l.Require("lib"))
	assert.Equal(t, "go", l.Require("host"))
	assert.Nil(t, l.Require("nothing"))

	_, ok := e.Global("nothing")
	assert.False(t, ok)
}

func TestCompile_SandboxedRequireOnlyCountsCoverage(t *testing.T) {
	cov := &countingCoverage{}
	e := jsengine.New()
	l := newLoader(t, e, loader.Bundle{
		Modules: map[string]any{
			"secret": "s3cr3t",
			"box": `(function(require){
				require.coverage.line("box", "1");
				if (require.coverage.condition("box", "if:2:1", require("secret") === undefined)) {
					return typeof require.async;
				}
			})`,
		},
		Options: map[string]loader.ModuleOptions{"box": {Sandboxed: true}},
	})
	l.SetCoverage(cov)

	assert.Equal(t, "undefined", l.Require("box"))
	assert.Equal(t, []string{"box:1"}, cov.lines)
	assert.Equal(t, map[string]bool{"box:if:2:1": true}, cov.conditions)
	assert.False(t, l.Initialized("secret"))
}

func TestCompile_AsyncRequestFromScript(t *testing.T) {
	transport := loader.TransportFunc(func(_ context.Context, req loader.Request) (*loader.Response, error) {
		return &loader.Response{Body: []byte(`{"answer": 42}`), ContentType: "application/json"}, nil
	})
	e := jsengine.New()
	l := newLoader(t, e, loader.Bundle{Modules: map[string]any{
		"main": `(function(require){
			require.async("data.json", function(data){ result = data.answer });
		})`,
	}}, loader.WithTransport(transport))

	l.Require("main")
	require.NoError(t, l.Run(context.Background()))

	got, ok := e.Global("result")
	require.True(t, ok)
	assert.EqualValues(t, 42, got)
}

func TestScriptFlavorRunsInGlobalScope(t *testing.T) {
	transport := loader.TransportFunc(func(context.Context, loader.Request) (*loader.Response, error) {
		return &loader.Response{Body: []byte(`var plugin = "loaded";`), ContentType: "application/javascript"}, nil
	})
	e := jsengine.New()
	l := newLoader(t, e, loader.Bundle{}, loader.WithTransport(transport))

	var el any
	l.JS("plugin.js", func(v any) { el = v })
	require.NoError(t, l.Run(context.Background()))

	require.IsType(t, &loader.Element{}, el)
	assert.Equal(t, "loaded", l.Require("plugin"))
}

func TestCompile_UnknownModuleIsUndefined(t *testing.T) {
	e := jsengine.New()
	l := newLoader(t, e, loader.Bundle{Modules: map[string]any{
		"main": `(function(require){ return typeof require("nope") })`,
	}})

	assert.Equal(t, "undefined", l.Require("main"))
}

func TestCompile_FailedRequestCallsBackWithUndefined(t *testing.T) {
	transport := loader.TransportFunc(func(context.Context, loader.Request) (*loader.Response, error) {
		return nil, errors.New("connection refused")
	})
	e := jsengine.New()
	l := newLoader(t, e, loader.Bundle{Modules: map[string]any{
		"main": `(function(require){
			require.async("missing.json", function(v){ seen = typeof v });
		})`,
	}}, loader.WithTransport(transport))

	l.Require("main")
	require.NoError(t, l.Run(context.Background()))

	got, ok := e.Global("seen")
	require.True(t, ok)
	assert.Equal(t, "undefined", got)
}

func TestCompile_BatchRequestSpreadsValues(t *testing.T) {
	var (
		mu      sync.Mutex
		fetched []string
	)
	transport := loader.TransportFunc(func(_ context.Context, req loader.Request) (*loader.Response, error) {
		mu.Lock()
		fetched = append(fetched, req.Name)
		mu.Unlock()
		return &loader.Response{Body: []byte(`{"name": "` + req.Name + `"}`), ContentType: "application/json"}, nil
	})
	e := jsengine.New()
	l := newLoader(t, e, loader.Bundle{Modules: map[string]any{
		"main": `(function(require){
			require.async(["a.json", "b.json"], function(a, b){ pair = a.name + "+" + b.name });
		})`,
	}}, loader.WithTransport(transport), loader.WithPlugins(parallel.Plugin{}))

	l.Require("main")
	require.NoError(t, l.Run(context.Background()))

	got, ok := e.Global("pair")
	require.True(t, ok)
	assert.Equal(t, "a.json+b.json", got)
	sort.Strings(fetched)
	assert.Equal(t, []string{"a.json", "b.json"}, fetched)
}

func TestCompile_RequestsChain(t *testing.T) {
	transport := loader.TransportFunc(func(context.Context, loader.Request) (*loader.Response, error) {
		return &loader.Response{Body: []byte("body{}"), ContentType: "text/css"}, nil
	})
	e := jsengine.New()
	l := newLoader(t, e, loader.Bundle{Modules: map[string]any{
		"main": `(function(require){ return require.css("a.css").css("b.css") === require })`,
	}}, loader.WithTransport(transport))

	assert.Equal(t, true, l.Require("main"))
	require.NoError(t, l.Run(context.Background()))
}
