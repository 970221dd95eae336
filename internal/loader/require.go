package loader

import (
	"errors"
	"fmt"
	"strings"
)

// functionPrefix marks source text that can be compiled straight into a Factory.
const functionPrefix = "(function("

// Require returns the value of name, initializing it on first use. Unknown names
// resolve to a host global of the same name, or to nil.
//
// Initialization failures are fatal: Require panics with an *InitError. Use
// TryRequire to get them as an error instead.
func (l *Loader) Require(name string) any {
	content := l.modules[name]

	name, content, _ = l.events.BeforeCheck.Trigger(name, content, Sync)
	if l.initialized[name] && content != nil {
		return content
	}

	requested, declared := name, content
	name, content, _ = l.events.RewriteShortcut.Trigger(name, content, none{})
	if selfShortcut(requested, declared, name, content) {
		return l.environment(name)
	}
	if l.initialized[name] && !isAbsent(content) {
		return content
	}

	name, content, _ = l.events.BeforeInit.Trigger(name, content, none{})

	if src, ok := content.(string); ok && strings.HasPrefix(src, functionPrefix) {
		f, err := l.host.Compile(name, src)
		if err != nil {
			panic(&InitError{Name: name, Err: err})
		}
		content = f
	}
	return l.register(name, content)
}

// TryRequire is Require with initialization failures returned as an error.
func (l *Loader) TryRequire(name string) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			initErr, ok := r.(*InitError)
			if !ok {
				panic(r)
			}
			err = initErr
		}
	}()
	return l.Require(name), nil
}

// Register initializes content under name, replacing whatever was stored, and
// returns the resulting value.
func (l *Loader) Register(name string, content any) any {
	return l.register(name, content)
}

func (l *Loader) register(name string, content any) any {
	origin := l.origin(name, content)
	name, content, origin = l.events.BeforeRegister.Trigger(name, content, origin)

	previous, hadPrevious := l.modules[name]
	exports := Exports{}
	l.modules[name] = exports
	l.initialized[name] = true

	// A failed initialization leaves the name as it was before, so a later
	// Require starts over.
	defer func() {
		if r := recover(); r != nil {
			if hadPrevious {
				l.modules[name] = previous
			} else {
				delete(l.modules, name)
			}
			l.initialized[name] = false
			panic(r)
		}
	}()

	var value any
	if isAbsent(content) {
		value = l.environment(name)
	} else if f, ok := asFactory(content); ok {
		value = l.invoke(name, f, exports)
	} else {
		value = content
	}

	_, value, _ = l.events.AfterRegister.Trigger(name, value, none{})

	l.modules[name] = value
	l.initialized[name] = true
	l.logger.Debug("Module registered.", "name", name, "origin", origin)
	return value
}

func (l *Loader) origin(name string, content any) Origin {
	switch {
	case isAbsent(content):
		return Global
	case !l.declared[name]:
		return OffPackage
	}
	return InPackage
}

// environment resolves a name that has no content.
// selfShortcut reports whether a declared name was rewritten onto itself with
// nothing to resolve. Such a name keeps its declaration and is never
// initialized.
func selfShortcut(requested string, declared any, name string, content any) bool {
	return name == requested && isAbsent(content) && !isAbsent(declared)
}

func (l *Loader) environment(name string) any {
	_, value, _ := l.events.EnvironmentModule.Trigger(name, nil, none{})
	if !isAbsent(value) {
		return value
	}
	if g, ok := l.host.Global(name); ok {
		return g
	}
	return nil
}

// invoke runs a factory. Panics raised by the factory are converted into an
// *InitError naming the module.
func (l *Loader) invoke(name string, f Factory, exports Exports) (value any) {
	var resolver Resolver = l
	_, resolver, _ = l.events.DecorateRequire.Trigger(name, resolver, none{})
	if l.options[name].Sandboxed {
		resolver = NoResolver
	}

	mod := &Module{Name: name, Exports: exports, Coverage: l.coverage}
	defer func() {
		if r := recover(); r != nil {
			panic(asInitError(name, r))
		}
	}()

	if ret := f(resolver, exports, mod); ret != nil {
		return ret
	}
	return mod.Exports
}

func asInitError(name string, r any) *InitError {
	var initErr *InitError
	switch v := r.(type) {
	case *InitError:
		return v
	case error:
		if errors.As(v, &initErr) {
			return initErr
		}
		return &InitError{Name: name, Err: v}
	}
	return &InitError{Name: name, Err: fmt.Errorf("panic: %v", r)}
}

// TryStart is Start with initialization failures returned as an error.
func (l *Loader) TryStart() (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			initErr, ok := r.(*InitError)
			if !ok {
				panic(r)
			}
			err = initErr
		}
	}()
	return l.Start(), nil
}
