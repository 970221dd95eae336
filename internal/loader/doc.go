// Package loader is the module registry, initialization state machine and
// race-deduplicated asynchronous loader.
//
// A Loader owns a name to content map. Content is resolved lazily: the first
// Require of a name evaluates its content (a Factory, compilable source text, an
// inline value, or nothing, in which case the host environment is consulted),
// memoizes the result and returns the same value on every later call.
//
// Off-package content is fetched through a Transport. Concurrent requests for the
// same name join a single race: exactly one fetch is issued and every queued
// callback receives the same registered value, in the order the callbacks were
// queued. Failed fetches are never memoized.
//
// Optional behavior (shortcuts, parallel batches, plain-code wrapping, stats,
// metrics) lives in plugins that register handlers on the typed pipelines exposed
// by Events. The core fires the events and never refers to a specific plugin.
//
// # Concurrency
//
// A Loader follows the cooperative model of its eventloop.Loop: registry and race
// state are only touched from the goroutine running the loop (or the caller before
// the loop runs). Transports run on background goroutines and their completions
// are posted back to the loop.
package loader
