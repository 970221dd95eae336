// Package cache persists fetched module payloads and serves them back.
//
// The loader writes every successful fetch with Store.Put under
// loader.CacheKey(version, name) and its content type under
// loader.ContentTypeKey(version, name). ReadThrough wraps a transport so that later
// runs of the same bundle version are served from the store first.
package cache

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"

	"github.com/specialistvlad/lazymod/internal/ctxlog"
	"github.com/specialistvlad/lazymod/internal/loader"
)

// ErrNotFound is returned by Store.Get for unknown keys.
var ErrNotFound = errors.New("cache: key not found")

// Store is a byte-oriented key/value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

var _ loader.Cache = Store(nil)

// DefaultContentType is reported for cached payloads whose name has no known
// extension.
const DefaultContentType = "text/plain"

type readThrough struct {
	store   Store
	version string
	next    loader.Transport
}

// ReadThrough returns a transport answering from store when it holds a payload
// for the bundle version, and from next otherwise. Store errors other than
// ErrNotFound are logged and treated as a miss.
func ReadThrough(store Store, version string, next loader.Transport) loader.Transport {
	return &readThrough{store: store, version: version, next: next}
}

func (r *readThrough) Fetch(ctx context.Context, req loader.Request) (*loader.Response, error) {
	if r.version != "" {
		key := loader.CacheKey(r.version, req.Name)
		body, err := r.store.Get(ctx, key)
		switch {
		case err == nil:
			ctxlog.FromContext(ctx).Debug("Serving module from cache.", "key", key)
			return &loader.Response{Body: body, ContentType: r.contentType(ctx, req.Name)}, nil
		case !errors.Is(err, ErrNotFound):
			ctxlog.FromContext(ctx).Warn("Cache read failed.", "key", key, "error", err)
		}
	}
	if r.next == nil {
		return nil, fmt.Errorf("fetch %q: %w", req.Name, loader.ErrNoTransport)
	}
	return r.next.Fetch(ctx, req)
}

// contentType returns the content type stored with a cached payload, falling
// back to a guess from the name for entries written without one.
func (r *readThrough) contentType(ctx context.Context, name string) string {
	ct, err := r.store.Get(ctx, loader.ContentTypeKey(r.version, name))
	if err != nil || len(ct) == 0 {
		return ContentTypeOf(name)
	}
	return string(ct)
}

// ContentTypeOf guesses the content type of a module from its name.
func ContentTypeOf(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return DefaultContentType
}
