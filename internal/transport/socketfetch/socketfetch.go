// Package socketfetch fetches off-package modules over a socket.io connection.
//
// The transport emits FetchEvent with {"name", "flavor"} and waits for a
// PayloadEvent carrying {"name", "content_type", "body"} and optionally
// "status" and "error". Replies are matched to requests by module name.
package socketfetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/specialistvlad/lazymod/internal/ctxlog"
	"github.com/specialistvlad/lazymod/internal/loader"
)

const (
	FetchEvent   = "module:fetch"
	PayloadEvent = "module:payload"
)

// ErrRemote is returned when the server answers with an error or a failure status.
var ErrRemote = errors.New("remote module fetch failed")

type result struct {
	resp *loader.Response
	err  error
}

// Transport multiplexes module fetches over one socket.
type Transport struct {
	emit       func(event string, args ...any)
	disconnect func()

	mu      sync.Mutex
	pending map[string][]chan result
}

var _ loader.Transport = (*Transport)(nil)

func newTransport(emit func(string, ...any), disconnect func()) *Transport {
	return &Transport{emit: emit, disconnect: disconnect, pending: make(map[string][]chan result)}
}

// Options configure Dial.
type Options struct {
	Namespace          string
	InsecureSkipVerify bool
	// ConnectTimeout bounds the handshake. Defaults to 15s.
	ConnectTimeout time.Duration
}

// Dial connects to rawURL over WebSocket and returns a ready transport.
func Dial(ctx context.Context, rawURL string, o Options) (*Transport, error) {
	logger := ctxlog.FromContext(ctx).With("transport", "socketio", "url", rawURL)

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	connectTimeout := o.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(o.Namespace, opts)

	t := newTransport(
		func(event string, args ...any) { io.Emit(event, args...) },
		func() { io.Disconnect() },
	)
	io.On(types.EventName(PayloadEvent), t.handlePayload)

	connectChan := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Successfully connected", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err, _ := first(errs).(error)
		if err == nil {
			err = fmt.Errorf("connect_error: %v", first(errs))
		}
		connectChan <- err
	})

	logger.Debug("Initiating connection...")
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return t, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(connectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %v waiting for socket.io connection", connectTimeout)
	}
}

// Fetch emits a request and waits for the matching payload or ctx.
func (t *Transport) Fetch(ctx context.Context, req loader.Request) (*loader.Response, error) {
	ch := make(chan result, 1)
	t.mu.Lock()
	t.pending[req.Name] = append(t.pending[req.Name], ch)
	t.mu.Unlock()

	ctxlog.FromContext(ctx).Debug("Emitting event", "event", FetchEvent, "name", req.Name)
	t.emit(FetchEvent, map[string]any{"name": req.Name, "flavor": req.Flavor.String()})

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		t.forget(req.Name, ch)
		return nil, fmt.Errorf("waiting for %q: %w", req.Name, ctx.Err())
	}
}

func (t *Transport) forget(name string, ch chan result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	waiting := t.pending[name]
	for i, c := range waiting {
		if c == ch {
			waiting = append(waiting[:i], waiting[i+1:]...)
			break
		}
	}
	if len(waiting) == 0 {
		delete(t.pending, name)
		return
	}
	t.pending[name] = waiting
}

// handlePayload answers every request waiting for the payload's module.
func (t *Transport) handlePayload(data ...any) {
	payload, ok := first(data).(map[string]any)
	if !ok {
		return
	}
	name, _ := payload["name"].(string)

	t.mu.Lock()
	waiting := t.pending[name]
	delete(t.pending, name)
	t.mu.Unlock()

	r := decode(name, payload)
	for _, ch := range waiting {
		ch <- r
	}
}

func decode(name string, payload map[string]any) result {
	if msg, ok := payload["error"].(string); ok && msg != "" {
		return result{err: fmt.Errorf("module %q: %w: %s", name, ErrRemote, msg)}
	}
	if status, ok := payload["status"].(float64); ok && status >= 201 {
		return result{err: fmt.Errorf("module %q: %w: status %d", name, ErrRemote, int(status))}
	}
	contentType, _ := payload["content_type"].(string)
	var body []byte
	switch b := payload["body"].(type) {
	case string:
		body = []byte(b)
	case []byte:
		body = b
	}
	return result{resp: &loader.Response{Body: body, ContentType: contentType}}
}

// Close disconnects the socket. Pending fetches end with their context.
func (t *Transport) Close() {
	t.disconnect()
}

func first(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}
