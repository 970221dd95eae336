package httpfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/specialistvlad/lazymod/internal/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/modules/a.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Write([]byte("exports.a = 1"))
	})
	mux.HandleFunc("/modules/created", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/modules/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_Success(t *testing.T) {
	srv := newServer(t)
	tr, err := New(srv.URL + "/modules/")
	require.NoError(t, err)
	defer tr.Close()

	resp, err := tr.Fetch(context.Background(), loader.Request{Name: "a.js", Flavor: loader.Async})
	require.NoError(t, err)
	assert.Equal(t, "exports.a = 1", string(resp.Body))
	assert.Equal(t, "application/javascript; charset=utf-8", resp.ContentType)
}

func TestFetch_AbsoluteNamesIgnoreBase(t *testing.T) {
	srv := newServer(t)
	tr, err := New("http://invalid.example/")
	require.NoError(t, err)

	resp, err := tr.Fetch(context.Background(), loader.Request{Name: srv.URL + "/modules/a.js"})
	require.NoError(t, err)
	assert.Equal(t, "exports.a = 1", string(resp.Body))
}

func TestFetch_StatusAbove200IsFailure(t *testing.T) {
	srv := newServer(t)
	tr, err := New(srv.URL + "/modules/")
	require.NoError(t, err)

	_, err = tr.Fetch(context.Background(), loader.Request{Name: "created"})
	assert.ErrorIs(t, err, ErrStatus)

	_, err = tr.Fetch(context.Background(), loader.Request{Name: "missing.js"})
	assert.ErrorIs(t, err, ErrStatus)
}

func TestFetch_HonorsDeadline(t *testing.T) {
	srv := newServer(t)
	tr, err := New(srv.URL + "/modules/")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = tr.Fetch(ctx, loader.Request{Name: "slow"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_InvalidBase(t *testing.T) {
	_, err := New("://broken")
	assert.Error(t, err)
}
