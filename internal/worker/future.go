package worker

import (
	"container/list"
	"context"
	"sync/atomic"
)

// FutureState is the lifecycle of one submitted job.
type FutureState int32

const (
	FuturePending FutureState = iota
	FutureRunning
	FutureDone
	FutureCancelled
)

func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "pending"
	case FutureRunning:
		return "running"
	case FutureDone:
		return "done"
	case FutureCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Job is a unit of work for the pool. Run executes on a worker goroutine and
// should return promptly once ctx is done. Exactly one of Done or Cancelled is
// invoked afterwards; Cancelled also fires for jobs cancelled before they start.
type Job struct {
	Name      string
	Run       func(ctx context.Context)
	Done      func()
	Cancelled func()
}

// Future tracks a submitted job.
type Future struct {
	job      Job
	state    atomic.Int32
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}

	pool *Pool
	elem *list.Element // queue position, guarded by pool.mu
}

func newFuture(parent context.Context, job Job) *Future {
	ctx, cancel := context.WithCancel(parent)
	return &Future{
		job:      job,
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
}

// State returns the current state.
func (f *Future) State() FutureState {
	return FutureState(f.state.Load())
}

// Finished is closed once Done or Cancelled has returned.
func (f *Future) Finished() <-chan struct{} {
	return f.finished
}

// Cancel cancels the job. A pending job leaves the queue without running and its
// Cancelled hook fires immediately. A running job is marked cancelled and, when
// mayInterrupt is set, its context is cancelled; its Cancelled hook fires when
// Run returns. Cancel reports false if the job already finished.
func (f *Future) Cancel(mayInterrupt bool) bool {
	if f.state.CompareAndSwap(int32(FuturePending), int32(FutureCancelled)) {
		if f.pool != nil {
			f.pool.dequeue(f)
		}
		f.cancel()
		f.finish(false)
		return true
	}
	if f.state.CompareAndSwap(int32(FutureRunning), int32(FutureCancelled)) {
		if mayInterrupt {
			f.cancel()
		}
		return true
	}
	return false
}

// start moves a pending future to running. It fails if the future was
// cancelled while queued.
func (f *Future) start() bool {
	return f.state.CompareAndSwap(int32(FuturePending), int32(FutureRunning))
}

// complete runs the terminal hook after Run returned.
func (f *Future) complete() {
	f.finish(f.state.CompareAndSwap(int32(FutureRunning), int32(FutureDone)))
}

func (f *Future) finish(done bool) {
	defer close(f.finished)
	defer f.cancel()

	if done {
		if f.job.Done != nil {
			f.job.Done()
		}
		return
	}
	if f.job.Cancelled != nil {
		f.job.Cancelled()
	}
}
