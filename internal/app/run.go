package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/specialistvlad/lazymod/internal/ctxlog"
)

// Run starts the bundle and drives the loader until every request settled.
// With a status server configured it keeps serving until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	defer a.close()
	a.logger.Debug("App.Run method started.")

	g, gctx := errgroup.WithContext(ctx)
	if a.server != nil {
		g.Go(func() error { return a.server.Run(gctx) })
	}
	g.Go(func() error {
		if err := a.runBundle(gctx); err != nil {
			return err
		}
		if a.server == nil {
			return nil
		}
		a.logger.Info("Bundle settled, serving status until interrupted.")
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	a.logger.Debug("App.Run method finished.", "error", err)
	return err
}

// runBundle owns the loader: every call below happens on this goroutine.
func (a *App) runBundle(ctx context.Context) error {
	a.logger.Info("Starting bundle...", "version", a.loader.Version())
	result, err := a.loader.TryStart()
	if err != nil {
		return fmt.Errorf("bundle entry point failed: %w", err)
	}
	if result != nil {
		a.logger.Info("Entry point returned.", "result", result)
	}

	if len(a.config.Preload) > 0 {
		a.loader.PreloadAll(a.config.Preload, func(names ...any) {
			loaded := 0
			for _, n := range names {
				if n != nil {
					loaded++
				}
			}
			a.logger.Info("Preload finished.", "requested", len(names), "loaded", loaded)
		})
	}

	if err := a.loader.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("loader stopped: %w", err)
	}
	a.logger.Info("Bundle settled.")

	if a.config.Report {
		enc := json.NewEncoder(a.outW)
		enc.SetIndent("", "  ")
		if err := enc.Encode(a.stats.Report()); err != nil {
			return fmt.Errorf("failed to write stats report: %w", err)
		}
	}
	return nil
}
