// Package pipeline provides ordered, typed interception hooks.
//
// A Pipeline holds the handlers registered for one event. Every handler sees the
// event's current (a, b, c) tuple and may return an Override. Overrides are merged
// slot by slot with a last-truthy-wins rule: a slot replaces the current argument
// only when it is present and its value is not the zero value of its type. The
// chain never short-circuits; all handlers run on every Trigger.
//
// Each event gets its own Pipeline value whose type parameters describe the
// event's argument shape, so handlers are checked by the compiler instead of
// being matched against stringly-typed event names.
//
// Pipelines are not safe for concurrent use. Handlers are registered while the
// owner is being wired up and triggered from a single goroutine afterwards.
package pipeline
