package loader

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/specialistvlad/lazymod/internal/ctyconv"
)

// ErrNoTransport fails requests made on a loader without a Transport.
var ErrNoTransport = errors.New("no transport configured")

// Async requests arbitrary off-package content. cb receives the registered
// value, or nil on failure. It may be nil.
func (l *Loader) Async(name string, cb Callback) *Loader { return l.Request(Async, name, cb) }

// AsyncAll requests several names and calls cb once with the results in
// request order.
func (l *Loader) AsyncAll(names []string, cb BatchCallback) *Loader {
	return l.RequestAll(Async, names, cb)
}

// JS requests a host-executable script.
func (l *Loader) JS(name string, cb Callback) *Loader { return l.Request(Script, name, cb) }

// JSAll is the batch form of JS.
func (l *Loader) JSAll(names []string, cb BatchCallback) *Loader {
	return l.RequestAll(Script, names, cb)
}

// CSS requests a style resource.
func (l *Loader) CSS(name string, cb Callback) *Loader { return l.Request(Style, name, cb) }

// CSSAll is the batch form of CSS.
func (l *Loader) CSSAll(names []string, cb BatchCallback) *Loader {
	return l.RequestAll(Style, names, cb)
}

// Preload fetches content and declares it without initializing it. cb receives
// the module name, or nil on failure.
func (l *Loader) Preload(name string, cb Callback) *Loader { return l.Request(Preload, name, cb) }

// PreloadAll is the batch form of Preload.
func (l *Loader) PreloadAll(names []string, cb BatchCallback) *Loader {
	return l.RequestAll(Preload, names, cb)
}

// Request resolves name with the given flavor. Content already present in the
// registry is delivered synchronously; otherwise the caller joins the race for
// name and cb fires once the single fetch for it completes.
func (l *Loader) Request(flavor Flavor, name string, cb Callback) *Loader {
	if cb == nil {
		cb = noop
	}
	name, cb, flavor = l.events.RequestOffPackage.Trigger(name, cb, flavor)

	requested, declared := name, l.modules[name]
	name, content, _ := l.events.RewriteShortcut.Trigger(name, declared, none{})
	if selfShortcut(requested, declared, name, content) {
		cb(l.environment(name))
		return l
	}
	name, content, _ = l.events.BeforeCheck.Trigger(name, content, flavor)

	if !isAbsent(content) {
		switch {
		case flavor == Preload:
			cb(name)
		case l.initialized[name]:
			cb(content)
		default:
			cb(l.Require(name))
		}
		return l
	}

	name, content, _ = l.events.BeforeInit.Trigger(name, content, none{})

	queued := l.join(name, cb)
	l.events.RequestRace.Trigger(name, cb, queued)
	if queued > 1 {
		l.logger.Debug("Joined pending request.", "name", name, "flavor", flavor, "queued", queued)
		return l
	}

	l.fetch(name, flavor)
	return l
}

// RequestAll hands a batch to the RequestParallel handlers, which dispatch
// every name and call cb once. Without any handler the batch fails as a whole.
func (l *Loader) RequestAll(flavor Flavor, names []string, cb BatchCallback) *Loader {
	if cb == nil {
		cb = func(...any) {}
	}
	if l.events.RequestParallel.Len() == 0 {
		l.logger.Warn("No parallel dispatcher registered, batch request dropped.", "names", names, "flavor", flavor)
		cb(make([]any, len(names))...)
		return l
	}
	l.events.RequestParallel.Trigger(names, cb, flavor)
	return l
}

// fetch runs the transport on a background goroutine. The result is applied on
// the loop.
func (l *Loader) fetch(name string, flavor Flavor) {
	req := Request{Name: name, Flavor: flavor}
	transport := l.transport
	timeout := l.timeout
	l.logger.Debug("Fetching off-package content.", "name", name, "flavor", flavor)

	l.loop.Go(func() func() {
		ctx, cancel := context.WithTimeout(l.ctx, timeout)
		defer cancel()
		resp, err := fetchWithin(ctx, transport, req)
		return func() { l.complete(req, resp, err) }
	})
}

type fetchResult struct {
	resp *Response
	err  error
}

// fetchWithin enforces the deadline of ctx even on transports that ignore it.
func fetchWithin(ctx context.Context, t Transport, req Request) (*Response, error) {
	if t == nil {
		return nil, ErrNoTransport
	}
	done := make(chan fetchResult, 1)
	go func() {
		resp, err := t.Fetch(ctx, req)
		done <- fetchResult{resp, err}
	}()

	select {
	case r := <-done:
		if r.err == nil && r.resp == nil {
			return nil, fmt.Errorf("fetch %q: empty response", req.Name)
		}
		return r.resp, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %q: %w", req.Name, ctx.Err())
	}
}

func (l *Loader) complete(req Request, resp *Response, err error) {
	name, flavor := req.Name, req.Flavor

	var content any
	if err == nil {
		content, err = l.decode(name, flavor, resp)
	}
	if err == nil && flavor == Preload {
		l.modules[name] = content
		l.initialized[name] = false
		l.persist(name, resp)
		l.flush(name, name)
		return
	}
	var value any
	if err == nil {
		value, err = l.tryRegister(name, content)
	}
	if err != nil {
		l.logger.Warn("Off-package request failed.", "name", name, "flavor", flavor, "error", err)
		l.events.RequestError.Trigger(name, err, flavor)
		l.flush(name, nil)
		return
	}

	l.persist(name, resp)
	l.flush(name, value)
}

func (l *Loader) tryRegister(name string, content any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = asInitError(name, r)
		}
	}()
	return l.register(name, content), nil
}

// decode turns a fetched payload into registrable content.
func (l *Loader) decode(name string, flavor Flavor, resp *Response) (any, error) {
	contentType := normalizeContentType(resp.ContentType)

	switch flavor {
	case Script:
		if runner, ok := l.host.(ScriptRunner); ok {
			if err := runner.RunScript(name, string(resp.Body)); err != nil {
				return nil, fmt.Errorf("run script %q: %w", name, err)
			}
		}
		return &Element{Flavor: flavor, Name: name, ContentType: contentType, Body: resp.Body}, nil
	case Style:
		return &Element{Flavor: flavor, Name: name, ContentType: contentType, Body: resp.Body}, nil
	}

	text := string(resp.Body)
	if !isScript(contentType) && !isJSON(contentType) {
		return text, nil
	}

	_, text, _ = l.events.WrapModule.Trigger(name, text, contentType)
	if isJSON(contentType) {
		v, err := ctyconv.DecodeJSON([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", name, err)
		}
		return v, nil
	}

	f, err := l.host.Compile(name, text)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// persist writes a fetched payload and its content type to the cache.
// Failures are only logged.
func (l *Loader) persist(name string, resp *Response) {
	if l.cache == nil || l.version == "" {
		return
	}
	entries := [][2]string{{CacheKey(l.version, name), string(resp.Body)}}
	if resp.ContentType != "" {
		entries = append(entries, [2]string{ContentTypeKey(l.version, name), resp.ContentType})
	}
	for _, e := range entries {
		if err := l.cache.Put(l.ctx, e[0], []byte(e[1])); err != nil {
			l.logger.Debug("Cache write failed.", "key", e[0], "error", err)
			return
		}
	}
}

func normalizeContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

func isScript(contentType string) bool { return strings.HasSuffix(contentType, "script") }

func isJSON(contentType string) bool { return strings.HasSuffix(contentType, "json") }
