// Package httpfetch fetches off-package modules over HTTP.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/specialistvlad/lazymod/internal/ctxlog"
	"github.com/specialistvlad/lazymod/internal/loader"
)

// ErrStatus reports a response whose status is not a success. Only statuses
// below 201 count as success.
var ErrStatus = errors.New("unexpected HTTP status")

// Transport resolves module names against a base URL and GETs them.
type Transport struct {
	base   *url.URL
	client *http.Client
}

var _ loader.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithClient replaces the default client.
func WithClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// New creates a Transport for baseURL. Module names are resolved relative to it,
// absolute names are used as they are.
func New(baseURL string, opts ...Option) (*Transport, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	t := &Transport{
		base: base,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Fetch GETs the module. The deadline comes from ctx.
func (t *Transport) Fetch(ctx context.Context, req loader.Request) (*loader.Response, error) {
	ref, err := url.Parse(req.Name)
	if err != nil {
		return nil, fmt.Errorf("invalid module name %q: %w", req.Name, err)
	}
	target := t.base.ResolveReference(ref)

	ctxlog.FromContext(ctx).Debug("Making HTTP request", "method", http.MethodGet, "url", target.String(), "flavor", req.Flavor)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 201 {
		return nil, fmt.Errorf("GET %s: %w: %d", target, ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &loader.Response{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

// Close releases idle connections.
func (t *Transport) Close() {
	t.client.CloseIdleConnections()
}
