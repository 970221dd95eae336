// Package jsengine is a loader host backed by the goja JavaScript runtime.
//
// Module source of the form "(function(require, exports, module){ ... })" is
// compiled into a loader.Factory. Inside the function:
//
//	require(name)                        resolves through the loader
//	require.async(name, cb)              and require.js, require.css, require.preload
//	require.async([a, b], cb)            batch form; cb receives one value per name
//	require.coverage.line(module, id)    and .function, .condition(module, id, cond)
//
// Sandboxed modules receive a require that resolves nothing but still counts
// coverage. Scripts run with RunScript share the global scope, so a script can
// define globals that later resolve as environment modules.
//
// An Engine is not safe for concurrent use. Like the loader, it belongs to the
// goroutine running the event loop.
package jsengine

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/specialistvlad/lazymod/internal/loader"
)

// Engine implements loader.Host and loader.ScriptRunner.
type Engine struct {
	vm     *goja.Runtime
	loader *loader.Loader
}

var (
	_ loader.Host         = (*Engine)(nil)
	_ loader.ScriptRunner = (*Engine)(nil)
	_ loader.Plugin       = (*Engine)(nil)
)

func New() *Engine {
	return &Engine{vm: goja.New()}
}

// Register attaches the engine to l so compiled modules can issue async
// requests. Modules compiled before registration get a require without them.
func (e *Engine) Register(l *loader.Loader) {
	e.loader = l
}

// Set defines a global.
func (e *Engine) Set(name string, value any) error {
	return e.vm.Set(name, value)
}

// Global exports the global called name, if defined.
func (e *Engine) Global(name string) (any, bool) {
	v := e.vm.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return nil, false
	}
	return v.Export(), true
}

// RunScript evaluates src in the global scope.
func (e *Engine) RunScript(name, src string) error {
	if _, err := e.vm.RunScript(name, src); err != nil {
		return fmt.Errorf("script %q: %w", name, err)
	}
	return nil
}

// Compile evaluates src, which must produce a function, and wraps it as a
// factory.
func (e *Engine) Compile(name, src string) (loader.Factory, error) {
	v, err := e.vm.RunScript(name, src)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", name, err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("compile %q: source does not evaluate to a function", name)
	}

	return func(req loader.Resolver, exports loader.Exports, mod *loader.Module) any {
		exportsVal := e.vm.ToValue(map[string]any(exports))
		moduleObj := e.vm.NewObject()
		_ = moduleObj.Set("id", mod.Name)
		_ = moduleObj.Set("exports", exportsVal)

		ret, err := fn(goja.Undefined(), e.require(req, mod), exportsVal, moduleObj)
		if err != nil {
			panic(err)
		}
		if !isNullish(ret) {
			return ret.Export()
		}
		if final := moduleObj.Get("exports"); final != exportsVal && !isNullish(final) {
			mod.Exports = final.Export()
		}
		return nil
	}, nil
}

// require builds the require function handed to one module.
func (e *Engine) require(req loader.Resolver, mod *loader.Module) *goja.Object {
	sandboxed := loader.Sandboxed(req)

	fn := e.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if sandboxed {
			return goja.Undefined()
		}
		return e.toValue(req.Require(call.Argument(0).String()))
	}).(*goja.Object)

	cov := e.vm.NewObject()
	_ = cov.Set("line", func(module, id string) { mod.Coverage.Line(module, id) })
	_ = cov.Set("function", func(module, id string) { mod.Coverage.Function(module, id) })
	_ = cov.Set("condition", func(module, id string, cond bool) bool {
		return mod.Coverage.Condition(module, id, cond)
	})
	_ = fn.Set("coverage", cov)

	if sandboxed || e.loader == nil {
		return fn
	}
	_ = fn.Set("async", e.request(loader.Async, fn))
	_ = fn.Set("js", e.request(loader.Script, fn))
	_ = fn.Set("css", e.request(loader.Style, fn))
	_ = fn.Set("preload", e.request(loader.Preload, fn))
	return fn
}

// request exposes one request flavor. The first argument is a name or an array
// of names; a batch callback receives one argument per name. The callback is
// optional and require is returned so calls chain.
func (e *Engine) request(flavor loader.Flavor, self *goja.Object) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		cb, _ := goja.AssertFunction(call.Argument(1))
		invoke := func(label string, args ...goja.Value) {
			if cb == nil {
				return
			}
			if _, err := cb(goja.Undefined(), args...); err != nil {
				e.loader.Logger().Warn("Module callback failed.", "name", label, "flavor", flavor, "error", err)
			}
		}

		if obj, ok := arg.(*goja.Object); ok && obj.ClassName() == "Array" {
			var names []string
			if err := e.vm.ExportTo(obj, &names); err != nil {
				panic(e.vm.NewTypeError("require.%s: %v", flavor, err))
			}
			e.loader.RequestAll(flavor, names, func(values ...any) {
				args := make([]goja.Value, len(values))
				for i, v := range values {
					args[i] = e.toValue(v)
				}
				invoke(fmt.Sprint(names), args...)
			})
			return self
		}

		name := arg.String()
		e.loader.Request(flavor, name, func(v any) { invoke(name, e.toValue(v)) })
		return self
	}
}

func (e *Engine) toValue(v any) goja.Value {
	switch x := v.(type) {
	case nil:
		return goja.Undefined()
	case loader.Exports:
		return e.vm.ToValue(map[string]any(x))
	}
	return e.vm.ToValue(v)
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}
