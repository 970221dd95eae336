// Package parallel dispatches batch requests. Every name of a batch gets its
// own request; the batch callback fires once, after the last of them, with the
// results in request order.
package parallel

import (
	"github.com/specialistvlad/lazymod/internal/loader"
	"github.com/specialistvlad/lazymod/internal/pipeline"
)

// Dispatch calls method for every name and cb once all of them reported back.
// An empty batch calls cb immediately.
func Dispatch(names []string, cb loader.BatchCallback, method func(name string, ready loader.Callback)) {
	if len(names) == 0 {
		cb()
		return
	}

	results := make([]any, len(names))
	remaining := len(names)
	for i, name := range names {
		method(name, func(v any) {
			results[i] = v
			remaining--
			if remaining == 0 {
				cb(results...)
			}
		})
	}
}

// Plugin handles RequestParallel.
type Plugin struct{}

func (Plugin) Register(l *loader.Loader) {
	l.Events().RequestParallel.On(func(names []string, cb loader.BatchCallback, flavor loader.Flavor) *pipeline.Override[[]string, loader.BatchCallback, loader.Flavor] {
		l.Logger().Debug("Dispatching batch request.", "names", names, "flavor", flavor)
		Dispatch(names, cb, func(name string, ready loader.Callback) {
			l.Request(flavor, name, ready)
		})
		return nil
	})
}
