// Package inmemorystore provides an ephemeral, thread-safe cache.Store.
//
// # Concurrency Model
//
// Entries live in a sync.Map. Payload keys are written once per fetch and read
// many times by the read-through transport, which is the access pattern sync.Map
// is optimized for.
//
// Values are copied on the way in and out, so callers may reuse their buffers.
package inmemorystore
