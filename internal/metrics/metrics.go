// Package metrics exports loader activity as Prometheus metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/specialistvlad/lazymod/internal/loader"
	"github.com/specialistvlad/lazymod/internal/pipeline"
)

const (
	namespace = "lazymod"
	subsystem = "loader"
)

type inflight struct {
	flavor loader.Flavor
	start  time.Time
}

// Collector is a loader plugin counting requests, fetches, deduplicated joins,
// failures and registrations.
type Collector struct {
	requests      *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	joins         *prometheus.CounterVec
	failures      *prometheus.CounterVec
	registrations *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	now      func() time.Time
	flavor   loader.Flavor
	inflight map[string]inflight
}

// New creates a Collector and registers its metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Off-package requests by flavor.",
		}, []string{"flavor"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetches_total",
			Help:      "Fetches issued to the transport by flavor.",
		}, []string{"flavor"}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "race_joins_total",
			Help:      "Requests that joined an in-flight fetch instead of issuing one.",
		}, []string{"flavor"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_failures_total",
			Help:      "Failed off-package requests by flavor.",
		}, []string{"flavor"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "registrations_total",
			Help:      "Module initializations by origin.",
		}, []string{"origin"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fetch_duration_seconds",
			Help:      "Time from issuing a fetch to registering or failing it.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flavor", "success"}),
		now:      time.Now,
		inflight: make(map[string]inflight),
	}
	reg.MustRegister(c.requests, c.fetches, c.joins, c.failures, c.registrations, c.fetchDuration)
	return c
}

// Register hooks the collector into l. Handlers run on the loader's loop.
func (c *Collector) Register(l *loader.Loader) {
	ev := l.Events()
	ev.RequestOffPackage.On(func(_ string, _ loader.Callback, flavor loader.Flavor) *pipeline.Override[string, loader.Callback, loader.Flavor] {
		c.requests.WithLabelValues(flavor.String()).Inc()
		return nil
	})
	// BeforeCheck and RequestRace fire back to back within one request, so the
	// flavor seen here is the flavor of the race that follows.
	ev.BeforeCheck.On(func(_ string, _ any, flavor loader.Flavor) *pipeline.Override[string, any, loader.Flavor] {
		if flavor != loader.Sync {
			c.flavor = flavor
		}
		return nil
	})
	ev.RequestRace.On(func(name string, _ loader.Callback, queued int) *pipeline.Override[string, loader.Callback, int] {
		if queued > 1 {
			c.joins.WithLabelValues(c.flavor.String()).Inc()
			return nil
		}
		c.fetches.WithLabelValues(c.flavor.String()).Inc()
		// Preloads never register, their duration is not observed.
		if c.flavor != loader.Preload {
			c.inflight[name] = inflight{flavor: c.flavor, start: c.now()}
		}
		return nil
	})
	ev.BeforeRegister.On(func(_ string, _ any, origin loader.Origin) *pipeline.Override[string, any, loader.Origin] {
		c.registrations.WithLabelValues(string(origin)).Inc()
		return nil
	})
	ev.AfterRegister.On(func(name string, _ any, _ pipeline.None) *pipeline.Override[string, any, pipeline.None] {
		c.finish(name, true)
		return nil
	})
	ev.RequestError.On(func(name string, _ error, flavor loader.Flavor) *pipeline.Override[string, error, loader.Flavor] {
		c.failures.WithLabelValues(flavor.String()).Inc()
		c.finish(name, false)
		return nil
	})
}

func (c *Collector) finish(name string, success bool) {
	f, ok := c.inflight[name]
	if !ok {
		return
	}
	delete(c.inflight, name)
	c.fetchDuration.WithLabelValues(f.flavor.String(), strconv.FormatBool(success)).Observe(c.now().Sub(f.start).Seconds())
}
