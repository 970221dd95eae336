package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/specialistvlad/lazymod/internal/loader"
	"github.com/specialistvlad/lazymod/internal/server"
	"github.com/specialistvlad/lazymod/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*server.Server, *stats.Engine) {
	t.Helper()
	e := stats.New()
	e.Declare("calc", loader.CoverageDecl{Lines: []string{"1", "2"}})
	e.Line("calc", "1")
	e.Access("calc")

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "lazymod_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	return server.New(context.Background(), server.Options{Version: "1.0.0", Stats: e, Gatherer: reg}), e
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newServer(t)
	rec := get(t, s.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
}

func TestStatsRoutes(t *testing.T) {
	s, _ := newServer(t)

	rec := get(t, s.Handler(), "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var report stats.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 50.0, report.Global.Lines.Percentage)
	require.Contains(t, report.Modules, "calc")

	rec = get(t, s.Handler(), "/stats/calc")
	require.Equal(t, http.StatusOK, rec.Code)
	var st stats.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "calc", st.Name)
	assert.Len(t, st.AccessTimes, 1)

	rec = get(t, s.Handler(), "/stats/nested/unknown.js")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "nested/unknown.js")
}

func TestMetrics(t *testing.T) {
	s, _ := newServer(t)
	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lazymod_test_total 1")
}

func TestRoutesOmittedWithoutSources(t *testing.T) {
	s := server.New(context.Background(), server.Options{})
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/stats").Code)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/health").Code)
}

func TestRun_ShutsDownWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s := server.New(context.Background(), server.Options{Addr: addr})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRun_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := server.New(context.Background(), server.Options{Addr: ln.Addr().String()})
	err = s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "status server failed"))
}
