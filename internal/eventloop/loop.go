// Package eventloop provides a cooperative, single-goroutine task loop.
//
// State owned by a Loop is only touched by tasks running on the loop goroutine.
// Blocking work (network fetches, timers) runs on background goroutines started
// with Go, and its continuation is posted back to the loop, so completions are
// applied one at a time in the order they arrive.
package eventloop

import (
	"context"
	"sync"
)

// Loop is a FIFO task queue drained by Run.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	refs  int
	wake  chan struct{}
}

// New creates an idle loop.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post schedules fn to run on the loop. It is safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// Go runs work on a new goroutine while keeping the loop alive. The function
// returned by work, if any, is run on the loop once work has finished.
func (l *Loop) Go(work func() func()) {
	l.mu.Lock()
	l.refs++
	l.mu.Unlock()

	go func() {
		done := work()
		l.mu.Lock()
		l.queue = append(l.queue, func() {
			defer l.release()
			if done != nil {
				done()
			}
		})
		l.mu.Unlock()
		l.signal()
	}()
}

// Pending reports the number of queued tasks and in-flight background jobs.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) + l.refs
}

// Run drains the queue on the calling goroutine. It returns nil once nothing is
// queued and no background job is in flight, or ctx.Err() if ctx ends first.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		tasks := l.queue
		l.queue = nil
		refs := l.refs
		l.mu.Unlock()

		if len(tasks) == 0 {
			if refs == 0 {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.wake:
			}
			continue
		}

		for i, task := range tasks {
			if err := ctx.Err(); err != nil {
				l.requeue(tasks[i:])
				return err
			}
			task()
		}
	}
}

// requeue puts unexecuted tasks back in front of anything posted meanwhile.
func (l *Loop) requeue(tasks []func()) {
	l.mu.Lock()
	l.queue = append(tasks, l.queue...)
	l.mu.Unlock()
}

func (l *Loop) release() {
	l.mu.Lock()
	l.refs--
	l.mu.Unlock()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
