package socketfetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/lazymod/internal/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers every emitted request through the payload handler.
type fakeServer struct {
	mu      sync.Mutex
	emitted []map[string]any
	reply   func(req map[string]any) map[string]any
	t       *Transport
}

func newFake(reply func(map[string]any) map[string]any) *fakeServer {
	f := &fakeServer{reply: reply}
	f.t = newTransport(f.emit, func() {})
	return f
}

func (f *fakeServer) emit(event string, args ...any) {
	req := args[0].(map[string]any)
	f.mu.Lock()
	f.emitted = append(f.emitted, req)
	f.mu.Unlock()
	if f.reply == nil {
		return
	}
	if payload := f.reply(req); payload != nil {
		go f.t.handlePayload(payload)
	}
}

func TestFetch_MatchesPayloadByName(t *testing.T) {
	f := newFake(func(req map[string]any) map[string]any {
		return map[string]any{
			"name":         req["name"],
			"content_type": "application/json",
			"body":         `{"name": "` + req["name"].(string) + `"}`,
			"status":       float64(200),
		}
	})

	resp, err := f.t.Fetch(context.Background(), loader.Request{Name: "a.json", Flavor: loader.Preload})
	require.NoError(t, err)
	assert.Equal(t, `{"name": "a.json"}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.ContentType)
	assert.Equal(t, []map[string]any{{"name": "a.json", "flavor": "preload"}}, f.emitted)
}

func TestFetch_RemoteFailures(t *testing.T) {
	f := newFake(func(req map[string]any) map[string]any {
		if req["name"] == "gone.js" {
			return map[string]any{"name": "gone.js", "status": float64(404)}
		}
		return map[string]any{"name": req["name"], "error": "boom"}
	})

	_, err := f.t.Fetch(context.Background(), loader.Request{Name: "gone.js"})
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "404")

	_, err = f.t.Fetch(context.Background(), loader.Request{Name: "other.js"})
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "boom")
}

func TestFetch_TimesOutWithoutReply(t *testing.T) {
	f := newFake(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.t.Fetch(ctx, loader.Request{Name: "silent.js"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	f.t.mu.Lock()
	defer f.t.mu.Unlock()
	assert.Empty(t, f.t.pending, "abandoned waiters are forgotten")
}

func TestHandlePayload_IgnoresUnexpectedShapes(t *testing.T) {
	tr := newTransport(func(string, ...any) {}, func() {})
	assert.NotPanics(t, func() {
		tr.handlePayload()
		tr.handlePayload("not a map")
		tr.handlePayload(map[string]any{"name": "nobody-waits"})
	})
}

func TestTransport_WithLoader(t *testing.T) {
	f := newFake(func(req map[string]any) map[string]any {
		return map[string]any{"name": req["name"], "content_type": "text/html", "body": "<b>hi</b>"}
	})
	l := loader.New(context.Background(), loader.Bundle{}, loader.WithTransport(f.t))

	var got any
	l.Async("tpl.html", func(v any) { got = v }).Async("tpl.html", nil)
	require.NoError(t, l.Run(context.Background()))

	assert.Equal(t, "<b>hi</b>", got)
	assert.Len(t, f.emitted, 1)
}
