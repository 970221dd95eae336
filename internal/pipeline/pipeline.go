package pipeline

import "reflect"

// None fills unused argument slots of events that carry fewer than three values.
type None struct{}

// Opt is an optional replacement value for a single argument slot.
type Opt[T any] struct {
	value T
	set   bool
}

// Some wraps v as a present replacement.
func Some[T any](v T) Opt[T] {
	return Opt[T]{value: v, set: true}
}

// Get returns the wrapped value and whether it is present.
func (o Opt[T]) Get() (T, bool) {
	return o.value, o.set
}

// Override is what a handler returns to rewrite the in-flight arguments.
type Override[A, B, C any] struct {
	A Opt[A]
	B Opt[B]
	C Opt[C]
}

// Replace builds an Override with all three slots present.
func Replace[A, B, C any](a A, b B, c C) *Override[A, B, C] {
	return &Override[A, B, C]{A: Some(a), B: Some(b), C: Some(c)}
}

// Handler observes an event and optionally rewrites its arguments. Returning nil
// leaves the arguments untouched.
type Handler[A, B, C any] func(a A, b B, c C) *Override[A, B, C]

// Pipeline is the ordered handler list of one event.
type Pipeline[A, B, C any] struct {
	name     string
	handlers []Handler[A, B, C]
}

// New creates an empty pipeline. The name is informational.
func New[A, B, C any](name string) *Pipeline[A, B, C] {
	return &Pipeline[A, B, C]{name: name}
}

// Name returns the event name the pipeline was created with.
func (p *Pipeline[A, B, C]) Name() string {
	return p.name
}

// Len reports how many handlers are registered.
func (p *Pipeline[A, B, C]) Len() int {
	return len(p.handlers)
}

// On appends h to the handler list. Registration order is the call order.
func (p *Pipeline[A, B, C]) On(h Handler[A, B, C]) {
	if h == nil {
		return
	}
	p.handlers = append(p.handlers, h)
}

// Trigger runs every handler in registration order and returns the merged
// arguments. With no handlers, or when no handler overrides anything, the
// inputs are returned unchanged.
func (p *Pipeline[A, B, C]) Trigger(a A, b B, c C) (A, B, C) {
	for _, h := range p.handlers {
		o := h(a, b, c)
		if o == nil {
			continue
		}
		a = o.A.merge(a)
		b = o.B.merge(b)
		c = o.C.merge(c)
	}
	return a, b, c
}

func (o Opt[T]) merge(current T) T {
	if o.set && Truthy(o.value) {
		return o.value
	}
	return current
}

// Truthy reports whether v would override an argument. Zero values are falsy;
// an interface holding a zero value is falsy as well, except for structs, which
// count as set once boxed.
func Truthy[T any](v T) bool {
	rv := reflect.ValueOf(&v).Elem()
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
		if rv.Kind() == reflect.Struct {
			return true
		}
	}
	return !rv.IsZero()
}
