// Package server exposes loader health, statistics and metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/specialistvlad/lazymod/internal/ctxlog"
	"github.com/specialistvlad/lazymod/internal/stats"
)

const shutdownTimeout = 5 * time.Second

// StatsSource is what the server reports on. *stats.Engine implements it.
type StatsSource interface {
	Stats(name string) *stats.Stats
	Report() *stats.Report
}

// Options configure a Server.
type Options struct {
	// Addr is the listen address, e.g. ":8080".
	Addr    string
	Version string
	Stats   StatsSource
	// Gatherer backs /metrics. The route is omitted when nil.
	Gatherer prometheus.Gatherer
}

// Server is the status HTTP server.
type Server struct {
	logger  *slog.Logger
	router  *gin.Engine
	addr    string
	started time.Time
}

func New(ctx context.Context, o Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		logger:  ctxlog.FromContext(ctx).With("component", "server"),
		router:  gin.New(),
		addr:    o.Addr,
		started: time.Now(),
	}
	s.router.Use(gin.Recovery(), requestLogger(s.logger))
	s.registerRoutes(o)
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes(o Options) {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": "lazymod",
			"version": o.Version,
		})
	})

	if o.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{})))
	}

	if o.Stats == nil {
		return
	}
	s.router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Stats.Report())
	})
	s.router.GET("/stats/*name", func(c *gin.Context) {
		name := strings.TrimPrefix(c.Param("name"), "/")
		st := o.Stats.Stats(name)
		if st == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no statistics for module %q", name)})
			return
		}
		c.JSON(http.StatusOK, st)
	})
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server starting", "address", fmt.Sprintf("http://localhost%s/health", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("status server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down status server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown failed: %w", err)
	}
	s.logger.Debug("Status server shut down gracefully.")
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		level := slog.LevelDebug
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http_request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
			"bytes", c.Writer.Size(),
		)
	}
}
