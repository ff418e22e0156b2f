// Package mainloop provides the primary event loop: a single goroutine that
// runs posted tasks one at a time, in the order they were posted.
package mainloop

import (
	"context"
	"sync"

	"github.com/volley/pkg/errs"
)

type loopKey struct{}

// OnLoop reports whether ctx was handed to a task running on a Loop.
func OnLoop(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx.Value(loopKey{}).(*Loop)
	return ok
}

// Loop queues tasks for the goroutine that calls Run. Posting never blocks.
type Loop struct {
	mu      sync.Mutex
	pending []func(ctx context.Context)
	wake    chan struct{}
	closed  bool
}

// New creates a loop. It does nothing until Run is called.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues fn to run on the loop.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return errs.Invalid("task cannot be nil")
	}
	return l.PostContext(func(context.Context) { fn() })
}

// PostContext queues fn; fn receives a context for which OnLoop is true.
func (l *Loop) PostContext(fn func(ctx context.Context)) error {
	if fn == nil {
		return errs.Invalid("task cannot be nil")
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errs.Invalid("loop is closed")
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run executes tasks on the calling goroutine until ctx is done. Tasks still
// queued when ctx ends are run before Run returns.
func (l *Loop) Run(ctx context.Context) {
	taskCtx := context.WithValue(ctx, loopKey{}, l)

	for {
		for _, fn := range l.take() {
			fn(taskCtx)
		}

		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			l.mu.Unlock()

			for _, fn := range l.take() {
				fn(taskCtx)
			}
			return
		case <-l.wake:
		}
	}
}

func (l *Loop) take() []func(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.pending
	l.pending = nil
	return batch
}

// Len returns the number of tasks waiting to run.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
