// Package worker implements the bounded worker pool that runs transfers off
// the calling goroutine.
package worker

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/volley/internal/config"
	"github.com/volley/internal/health"
	"github.com/volley/internal/mainloop"
	"github.com/volley/pkg/errs"
)

// State is the pool lifecycle: Running -> Draining -> Terminated.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Poster runs tasks on the primary loop.
type Poster interface {
	Post(fn func()) error
}

// Option configures a Pool.
type Option func(*Pool)

// WithPrimary attaches the primary loop used by RunOnPrimary.
func WithPrimary(p Poster) Option {
	return func(pool *Pool) { pool.primary = p }
}

// WithMetrics publishes pool gauges.
func WithMetrics(m *health.Metrics) Option {
	return func(pool *Pool) { pool.metrics = m }
}

// Pool manages a bounded set of worker goroutines and a bounded FIFO queue.
// Cancelling a queued job removes it from the queue.
//
// Admission follows a fixed order: start a worker while fewer than CoreSize
// exist, otherwise queue, otherwise start a worker while fewer than MaxSize
// exist, otherwise reject. Idle workers exit after IdleTimeout.
type Pool struct {
	cfg     config.Worker
	log     *zap.Logger
	metrics *health.Metrics
	primary Poster
	limiter *rate.Limiter

	mu         sync.Mutex
	state      State
	queue      *list.List
	wake       chan struct{}
	closing    chan struct{}
	workers    int
	wg         sync.WaitGroup
	active     int64
	ctx        context.Context
	cancel     context.CancelFunc
	terminated chan struct{}
}

// NewPool creates a pool. No goroutine is started until the first Submit.
func NewPool(cfg config.Worker, log *zap.Logger, opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		cfg:        cfg,
		log:        log.Named("worker"),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		queue:      list.New(),
		wake:       make(chan struct{}, cfg.QueueSize),
		closing:    make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		terminated: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.SetRate(cfg.RateLimit)

	p.log.Debug("pool created",
		zap.Int("core_size", cfg.CoreSize),
		zap.Int("max_size", cfg.MaxSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("idle_timeout", cfg.IdleTimeout))
	return p
}

// Submit queues a job. It fails with ErrInvalidArgument when job.Run is nil
// and with ErrQueueSaturated when the pool is full or draining. A job
// submitted to a terminated pool is logged and dropped: its Cancelled hook
// fires and the returned future is already cancelled.
func (p *Pool) Submit(job Job) (*Future, error) {
	if job.Run == nil {
		return nil, errs.Invalid("task cannot be nil")
	}

	f := newFuture(p.ctx, job)
	f.pool = p

	p.mu.Lock()
	err := p.admit(f)
	p.mu.Unlock()

	if err == errDropped {
		f.Cancel(false)
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// errDropped marks a submission to a terminated pool.
var errDropped = errors.New("dropped")

// admit hands f to a new worker or the queue. Callers hold p.mu.
func (p *Pool) admit(f *Future) error {
	if p.state != StateRunning {
		return p.reject(f)
	}

	if p.workers < p.cfg.CoreSize {
		p.startWorker(f)
		return nil
	}

	if p.queue.Len() < p.cfg.QueueSize {
		f.elem = p.queue.PushBack(f)
		p.metrics.SetQueuedTasks(p.queue.Len())
		if p.workers == 0 {
			p.startWorker(nil)
		}
		select {
		case p.wake <- struct{}{}:
		default:
		}
		return nil
	}

	if p.workers < p.cfg.MaxSize {
		p.startWorker(f)
		return nil
	}

	return p.reject(f)
}

// reject applies the saturation policy. Callers hold p.mu.
func (p *Pool) reject(f *Future) error {
	if p.state == StateTerminated {
		p.log.Error("cannot queue worker task, the pool is terminated", zap.String("job", f.job.Name))
		p.metrics.IncRejected("terminated")
		return errDropped
	}

	p.metrics.IncRejected("saturated")
	if p.state == StateDraining {
		return errs.Saturated("pool is draining")
	}
	return errs.Saturated(fmt.Sprintf("%d workers busy and %d tasks queued", p.workers, p.queue.Len()))
}

// startWorker launches a worker goroutine. Callers hold p.mu.
func (p *Pool) startWorker(first *Future) {
	p.workers++
	p.wg.Add(1)
	p.metrics.SetPoolWorkers(p.workers)
	go p.worker(first)
}

// worker is the main worker goroutine.
func (p *Pool) worker(first *Future) {
	defer p.wg.Done()

	if first != nil {
		p.run(first)
	}

	idle := time.NewTimer(p.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		f, ok := p.next()
		if !ok {
			return
		}
		if f != nil {
			p.run(f)
			continue
		}

		idle.Reset(p.cfg.IdleTimeout)
		select {
		case <-p.wake:
		case <-p.closing:
		case <-idle.C:
			p.mu.Lock()
			if p.queue.Len() > 0 {
				p.mu.Unlock()
				continue
			}
			p.workers--
			p.metrics.SetPoolWorkers(p.workers)
			p.mu.Unlock()
			return
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
	}
}

// next pops the head of the queue. It returns a nil future when the queue is
// empty and the worker should wait, and false once the pool is draining with
// nothing left to run, in which case the worker has been accounted as gone.
func (p *Pool) next() (*Future, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e := p.queue.Front(); e != nil {
		f := p.queue.Remove(e).(*Future)
		f.elem = nil
		p.metrics.SetQueuedTasks(p.queue.Len())
		return f, true
	}
	if p.state != StateRunning {
		p.workers--
		p.metrics.SetPoolWorkers(p.workers)
		return nil, false
	}
	return nil, true
}

// dequeue removes a cancelled future that is still waiting in the queue.
func (p *Pool) dequeue(f *Future) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f.elem == nil {
		return
	}
	p.queue.Remove(f.elem)
	f.elem = nil
	p.metrics.SetQueuedTasks(p.queue.Len())
}

// run executes a single future.
func (p *Pool) run(f *Future) {
	// Pool shut down without waiting: queued work is cancelled, not run.
	if p.ctx.Err() != nil {
		f.Cancel(false)
		return
	}
	if !f.start() {
		return
	}

	if err := p.limiter.Wait(f.ctx); err != nil {
		f.Cancel(false)
		f.complete()
		return
	}

	p.metrics.SetActiveWorkers(int(atomic.AddInt64(&p.active, 1)))
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.recovered(f, r)
			}
		}()
		f.job.Run(f.ctx)
	}()
	p.metrics.SetActiveWorkers(int(atomic.AddInt64(&p.active, -1)))

	// Work interrupted by shutdown reports as cancelled.
	if p.ctx.Err() != nil {
		f.Cancel(false)
	}
	f.complete()
}

// recovered logs a panic raised by a job's Run. Invariant violations are
// fatal and keep unwinding.
func (p *Pool) recovered(f *Future, r any) {
	if err, ok := r.(error); ok && errors.Is(err, errs.ErrInvariant) {
		panic(r)
	}
	p.log.Error("worker task panicked", zap.String("job", f.job.Name), zap.Any("panic", r))
}

// SetRate limits how many jobs start per second. Zero or less removes the limit.
func (p *Pool) SetRate(tps float64) {
	if tps <= 0 {
		p.limiter.SetLimit(rate.Inf)
		p.metrics.SetTargetRate(0)
		return
	}

	p.limiter.SetLimit(rate.Limit(tps))
	p.limiter.SetBurst(int(tps / 10)) // Burst of 10% of TPS
	if p.limiter.Burst() < 1 {
		p.limiter.SetBurst(1)
	}
	p.metrics.SetTargetRate(tps)
}

// Terminate shuts the pool down. With wait set it stops admission, lets queued
// and running work finish and blocks up to DrainTimeout, cancelling whatever
// is left on expiry and returning ErrDrainTimeout. Without wait it cancels
// queued work, interrupts running work and returns immediately.
func (p *Pool) Terminate(wait bool) error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		if wait {
			return p.awaitTerminated()
		}
		return nil
	}
	p.state = StateDraining
	queued := p.queue.Len()
	close(p.closing)
	p.mu.Unlock()

	p.log.Info("pool draining", zap.Bool("wait", wait), zap.Int("queued", queued), zap.Int64("active", atomic.LoadInt64(&p.active)))

	go func() {
		p.wg.Wait()
		p.mu.Lock()
		p.state = StateTerminated
		p.mu.Unlock()
		p.cancel()
		close(p.terminated)
		p.log.Info("pool terminated")
	}()

	if !wait {
		p.cancel()
		n := p.ClearQueue()
		if n > 0 {
			p.log.Info("cancelled queued tasks", zap.Int("count", n))
		}
		return nil
	}

	return p.awaitTerminated()
}

func (p *Pool) awaitTerminated() error {
	timer := time.NewTimer(p.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case <-p.terminated:
		return nil
	case <-timer.C:
		p.cancel()
		p.log.Warn("drain timeout with tasks still in flight", zap.Int64("active", atomic.LoadInt64(&p.active)))
		return errs.ErrDrainTimeout
	}
}

// Terminated is closed once every worker has exited after Terminate.
func (p *Pool) Terminated() <-chan struct{} {
	return p.terminated
}

// ClearQueue cancels every queued job and returns how many were cancelled.
func (p *Pool) ClearQueue() int {
	p.mu.Lock()
	queued := make([]*Future, 0, p.queue.Len())
	for e := p.queue.Front(); e != nil; e = e.Next() {
		f := e.Value.(*Future)
		f.elem = nil
		queued = append(queued, f)
	}
	p.queue.Init()
	p.metrics.SetQueuedTasks(0)
	p.mu.Unlock()

	n := 0
	for _, f := range queued {
		if f.Cancel(false) {
			n++
		}
	}
	return n
}

// State returns the lifecycle state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Active returns the number of jobs currently running.
func (p *Pool) Active() int {
	return int(atomic.LoadInt64(&p.active))
}

// Queued returns the current queue length.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// QueueSize returns the queue capacity.
func (p *Pool) QueueSize() int { return p.cfg.QueueSize }

// Uncompleted returns Queued minus Active. Callers use it as a load-shedding
// signal; it goes negative when workers outnumber queued jobs.
func (p *Pool) Uncompleted() int {
	return p.Queued() - p.Active()
}

// Workers returns the number of live worker goroutines.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Get returns p itself.
func (p *Pool) Get() *Pool { return p }

// CoreSize returns the configured core size.
func (p *Pool) CoreSize() int { return p.cfg.CoreSize }

// MaxSize returns the configured maximum size.
func (p *Pool) MaxSize() int { return p.cfg.MaxSize }

// OnPrimary reports whether ctx belongs to a task running on the primary loop,
// in which case follow-up work may run synchronously.
func (p *Pool) OnPrimary(ctx context.Context) bool {
	return mainloop.OnLoop(ctx)
}

// RunOnPrimary posts fn to the primary loop.
func (p *Pool) RunOnPrimary(fn func()) error {
	if fn == nil {
		return errs.Invalid("task cannot be nil")
	}
	if p.primary == nil {
		return errs.Invalid("no primary loop attached")
	}
	return p.primary.Post(fn)
}
