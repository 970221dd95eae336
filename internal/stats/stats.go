// Package stats keeps per-module usage statistics and execution coverage.
//
// An Engine is a loader plugin: it observes module lifecycle events to record
// accesses, initialization time, origin and shortcut aliases, and it is the
// loader's coverage sink. Coverage percentages are computed on demand by Stats
// and Report.
package stats

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/specialistvlad/lazymod/internal/loader"
	"github.com/specialistvlad/lazymod/internal/pipeline"
	"github.com/specialistvlad/lazymod/plugins/shortcuts"
)

// Counter is the coverage of one category.
type Counter struct {
	Total      int     `json:"total"`
	Covered    int     `json:"covered"`
	Percentage float64 `json:"percentage"`
}

// LineReport lists what was never executed on one source line.
type LineReport struct {
	LineMissed bool     `json:"line_missed,omitempty"`
	Functions  []string `json:"functions,omitempty"`
	// Conditions holds the [false, true] outcome counts of conditions that
	// never evaluated to true.
	Conditions [][2]int `json:"conditions,omitempty"`
}

// Coverage is the computed coverage of one module.
type Coverage struct {
	Lines      Counter                `json:"lines"`
	Conditions Counter                `json:"conditions"`
	Functions  Counter                `json:"functions"`
	Report     map[string]*LineReport `json:"report"`
}

// Stats is a snapshot of one module's statistics.
type Stats struct {
	Name string `json:"name"`
	// AccessTimes are offsets from the engine start.
	AccessTimes []time.Duration `json:"access_times"`
	// InitTime is -1 until an initialization was measured.
	InitTime  time.Duration `json:"init_time"`
	Origin    loader.Origin `json:"type,omitempty"`
	Shortcuts []string      `json:"shortcuts,omitempty"`
	Coverage  *Coverage     `json:"coverage,omitempty"`
}

// Global aggregates coverage over all instrumented modules.
type Global struct {
	Lines      Counter `json:"lines"`
	Conditions Counter `json:"conditions"`
	Functions  Counter `json:"functions"`
}

// Report is the result of Engine.Report. Alias names map to the same *Stats
// as their target.
type Report struct {
	Modules map[string]*Stats `json:"modules"`
	Global  Global            `json:"global"`
}

type entry struct {
	name        string
	accessTimes []time.Duration
	initTime    time.Duration
	initStart   time.Time
	origin      loader.Origin
	shortcuts   []string

	instrumented bool
	decl         loader.CoverageDecl
	lines        map[string]int
	functions    map[string]int
	conditions   map[string]*[2]int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine collects statistics. It is safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	now     func() time.Time
	start   time.Time
	entries map[string]*entry
}

var _ loader.Coverage = (*Engine)(nil)

// New creates an Engine whose access offsets count from now.
func New(opts ...Option) *Engine {
	e := &Engine{now: time.Now, entries: make(map[string]*entry)}
	for _, opt := range opts {
		opt(e)
	}
	e.start = e.now()
	return e
}

// get returns the entry of name, creating it. Callers hold e.mu.
func (e *Engine) get(name string) *entry {
	en, ok := e.entries[name]
	if !ok {
		en = &entry{name: name, initTime: -1}
		e.entries[name] = en
	}
	return en
}

// Declare pre-creates the coverage counters of an instrumented module and marks
// it in-package. Declaring a module twice keeps the first declaration.
func (e *Engine) Declare(name string, decl loader.CoverageDecl) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en := e.get(name)
	en.origin = loader.InPackage
	if en.instrumented {
		return
	}
	en.instrumented = true
	en.decl = decl
	en.lines = make(map[string]int, len(decl.Lines))
	for _, id := range decl.Lines {
		en.lines[id] = 0
	}
	en.functions = make(map[string]int, len(decl.Functions))
	for _, id := range decl.Functions {
		en.functions[id] = 0
	}
	en.conditions = make(map[string]*[2]int, len(decl.Conditions))
	for _, id := range decl.Conditions {
		en.conditions[id] = &[2]int{}
	}
}

// Access records one access of name.
func (e *Engine) Access(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en := e.get(name)
	en.accessTimes = append(en.accessTimes, e.now().Sub(e.start))
}

// InitStart marks the beginning of an initialization.
func (e *Engine) InitStart(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.get(name).initStart = e.now()
}

// InitEnd records the time since the matching InitStart.
func (e *Engine) InitEnd(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en := e.get(name)
	if en.initStart.IsZero() {
		return
	}
	en.initTime = e.now().Sub(en.initStart)
	en.initStart = time.Time{}
}

// SetOrigin records where the content of name came from.
func (e *Engine) SetOrigin(name string, origin loader.Origin) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.get(name).origin = origin
}

// Alias links alias to the entry of target. Both names then report the same
// statistics.
func (e *Engine) Alias(target, alias string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en := e.get(target)
	if _, ok := e.entries[alias]; !ok {
		e.entries[alias] = en
	}
	for _, s := range en.shortcuts {
		if s == alias {
			return
		}
	}
	en.shortcuts = append(en.shortcuts, alias)
}

// Line counts an executed line. Unknown modules and ids are ignored.
func (e *Engine) Line(module, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok := e.entries[module]; ok {
		if _, ok := en.lines[id]; ok {
			en.lines[id]++
		}
	}
}

// Function counts a function call.
func (e *Engine) Function(module, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok := e.entries[module]; ok {
		if _, ok := en.functions[id]; ok {
			en.functions[id]++
		}
	}
}

// Condition counts a condition outcome and returns cond.
func (e *Engine) Condition(module, id string, cond bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok := e.entries[module]; ok {
		if counts, ok := en.conditions[id]; ok {
			if cond {
				counts[1]++
			} else {
				counts[0]++
			}
		}
	}
	return cond
}

// Stats returns a snapshot of name, or nil when nothing was recorded for it.
func (e *Engine) Stats(name string) *Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.entries[name]
	if !ok {
		return nil
	}
	return en.snapshot()
}

// Report computes every module and the global aggregate. The global
// percentages are the unweighted mean of the per-module percentages; totals are
// summed. With no instrumented module every percentage is 100.
func (e *Engine) Report() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := &Report{Modules: make(map[string]*Stats, len(e.entries))}
	snapshots := make(map[*entry]*Stats, len(e.entries))
	var lines, conditions, functions []Counter

	for key, en := range e.entries {
		s, ok := snapshots[en]
		if !ok {
			s = en.snapshot()
			snapshots[en] = s
		}
		r.Modules[key] = s

		if key != en.name || s.Coverage == nil {
			continue
		}
		lines = append(lines, s.Coverage.Lines)
		conditions = append(conditions, s.Coverage.Conditions)
		functions = append(functions, s.Coverage.Functions)
	}

	r.Global = Global{
		Lines:      aggregate(lines),
		Conditions: aggregate(conditions),
		Functions:  aggregate(functions),
	}
	return r
}

func (en *entry) snapshot() *Stats {
	s := &Stats{
		Name:        en.name,
		AccessTimes: append([]time.Duration(nil), en.accessTimes...),
		InitTime:    en.initTime,
		Origin:      en.origin,
		Shortcuts:   append([]string(nil), en.shortcuts...),
	}
	if en.instrumented {
		s.Coverage = en.coverage()
	}
	return s
}

func (en *entry) coverage() *Coverage {
	c := &Coverage{Report: make(map[string]*LineReport)}
	line := func(num string) *LineReport {
		lr, ok := c.Report[num]
		if !ok {
			lr = &LineReport{}
			c.Report[num] = lr
		}
		return lr
	}

	covered := 0
	for _, id := range en.decl.Lines {
		if en.lines[id] > 0 {
			covered++
			continue
		}
		line(id).LineMissed = true
	}
	c.Lines = counter(len(en.decl.Lines), covered)

	covered = 0
	for _, id := range en.decl.Functions {
		if en.functions[id] > 0 {
			covered++
			continue
		}
		fn, num := splitID(id)
		lr := line(num)
		lr.Functions = append(lr.Functions, fn)
	}
	c.Functions = counter(len(en.decl.Functions), covered)

	covered = 0
	for _, id := range en.decl.Conditions {
		counts := en.conditions[id]
		if counts[1] > 0 {
			covered++
			continue
		}
		_, num := splitID(id)
		lr := line(num)
		lr.Conditions = append(lr.Conditions, *counts)
	}
	c.Conditions = counter(len(en.decl.Conditions), covered)
	return c
}

// splitID splits "name:line:column" ids into name and line.
func splitID(id string) (string, string) {
	name, rest, ok := strings.Cut(id, ":")
	if !ok {
		return id, id
	}
	num, _, _ := strings.Cut(rest, ":")
	return name, num
}

func counter(total, covered int) Counter {
	pct := 100.0
	if total > 0 {
		pct = round(100 * float64(covered) / float64(total))
	}
	return Counter{Total: total, Covered: covered, Percentage: pct}
}

func aggregate(counters []Counter) Counter {
	if len(counters) == 0 {
		return Counter{Percentage: 100}
	}
	var g Counter
	var sum float64
	for _, c := range counters {
		g.Total += c.Total
		g.Covered += c.Covered
		sum += c.Percentage
	}
	g.Percentage = round(sum / float64(len(counters)))
	return g
}

func round(pct float64) float64 {
	return math.Round(pct*100) / 100
}

// Register installs the engine on l: coverage declarations of the bundle are
// loaded and lifecycle events are observed.
func (e *Engine) Register(l *loader.Loader) {
	for name, decl := range l.CoverageDecls() {
		e.Declare(name, decl)
	}
	l.SetCoverage(e)

	ev := l.Events()
	ev.BeforeCheck.On(func(name string, content any, flavor loader.Flavor) *pipeline.Override[string, any, loader.Flavor] {
		if flavor == loader.Sync {
			target, _, _ := shortcuts.Target(l, name, content)
			e.Access(target)
			return nil
		}
		if content == nil || content == loader.Missing || l.Initialized(name) {
			e.Access(name)
		}
		return nil
	})
	ev.BeforeResolve.On(func(alias, shortcut string, _ pipeline.None) *pipeline.Override[string, string, pipeline.None] {
		e.Alias(strings.TrimPrefix(shortcut, shortcuts.Marker), alias)
		return nil
	})
	ev.BeforeInit.On(func(name string, _ any, _ pipeline.None) *pipeline.Override[string, any, pipeline.None] {
		e.InitStart(name)
		return nil
	})
	ev.BeforeRegister.On(func(name string, _ any, origin loader.Origin) *pipeline.Override[string, any, loader.Origin] {
		e.SetOrigin(name, origin)
		return nil
	})
	ev.AfterRegister.On(func(name string, _ any, _ pipeline.None) *pipeline.Override[string, any, pipeline.None] {
		e.InitEnd(name)
		return nil
	})
	ev.RequestError.On(func(name string, _ error, _ loader.Flavor) *pipeline.Override[string, error, loader.Flavor] {
		e.InitEnd(name)
		return nil
	})
}
