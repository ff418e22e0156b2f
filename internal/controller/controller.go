// Package controller drives a batch of configured exchanges through the
// executor and collects their outcomes.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/volley/internal/config"
	"github.com/volley/internal/exchange"
	"github.com/volley/internal/stats"
	"github.com/volley/internal/worker"
	"github.com/volley/pkg/errs"
	"github.com/volley/pkg/message"
)

const defaultBackoff = 10 * time.Millisecond

// Option configures a Controller.
type Option func(*Controller)

// WithListener receives every outcome in addition to the controller's own
// bookkeeping.
func WithListener(l exchange.Listener) Option {
	return func(c *Controller) { c.listener = l }
}

// WithBackoff sets the pause between retries of a saturated submission.
func WithBackoff(d time.Duration) Option {
	return func(c *Controller) { c.backoff = d }
}

// WithRampUp raises the pool rate from 1/s to target over d.
func WithRampUp(target float64, d time.Duration) Option {
	return func(c *Controller) {
		c.targetRate = target
		c.rampUp = d
	}
}

// Controller submits a batch of exchanges, shedding load while the pool is
// saturated.
type Controller struct {
	exchanges []config.Exchange
	executor  *exchange.Executor
	pools     worker.Source
	recorder  *stats.Recorder
	listener  exchange.Listener
	log       *zap.Logger

	backoff    time.Duration
	targetRate float64
	rampUp     time.Duration

	submitted atomic.Int64
	finished  atomic.Int64
	retries   atomic.Int64

	mu    sync.Mutex
	calls []*exchange.Call
	wg    sync.WaitGroup
}

// New creates a controller. The recorder should be the one attached to the
// executor; the controller only reads it for the summary.
func New(exchanges []config.Exchange, executor *exchange.Executor, pools worker.Source, recorder *stats.Recorder, log *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		exchanges: exchanges,
		executor:  executor,
		pools:     pools,
		recorder:  recorder,
		log:       log.Named("controller"),
		backoff:   defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildRequest maps a configured exchange to a request descriptor.
func BuildRequest(x config.Exchange) (*message.Request, error) {
	m, ok := message.ParseMethod(x.Method)
	if !ok {
		return nil, fmt.Errorf("exchange %s: %w", x.Name, errs.Invalid("unsupported method %q", x.Method))
	}

	var req *message.Request
	if m.HasBody() {
		req = message.NewEntityRequest(x.URL, m, message.ContentType(x.ContentType), message.Encoding(x.Encoding))
	} else {
		req = message.NewRequest(x.URL, m)
	}

	for _, h := range x.Headers {
		req.Headers().Add(message.Header{Name: h.Name, Value: h.Value})
	}
	for _, p := range x.Parameters {
		req.Parameters().Add(message.Parameter{Name: p.Name, Value: p.Value})
	}
	for _, ck := range x.Cookies {
		req.Cookies().Add(message.Cookie{
			Name:    ck.Name,
			Value:   ck.Value,
			Domain:  ck.Domain,
			Path:    ck.Path,
			Expires: ck.Expires,
		})
	}
	return req, nil
}

// Run submits every exchange Repeat times in configuration order and waits
// for all of them to be delivered. When ctx ends, exchanges still in flight
// are cancelled and Run returns ctx.Err() once they have been delivered.
func (c *Controller) Run(ctx context.Context) (stats.Snapshot, error) {
	reqs := make([]*message.Request, len(c.exchanges))
	total := 0
	for i, x := range c.exchanges {
		req, err := BuildRequest(x)
		if err != nil {
			return stats.Snapshot{}, err
		}
		reqs[i] = req
		total += x.Repeat
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.rampUp > 0 && c.targetRate > 0 {
		c.wg.Add(1)
		go c.rampUpLoop(runCtx)
	}

	c.log.Info("batch started", zap.Int("exchanges", len(c.exchanges)), zap.Int("total", total))

	err := c.submitAll(runCtx, reqs)
	if err == nil {
		err = c.await(ctx)
	}
	if err != nil {
		c.cancelAll()
		c.drain()
	}

	cancel()
	c.wg.Wait()

	snap := c.recorder.Snapshot()
	c.log.Info("batch finished",
		zap.Int64("submitted", c.submitted.Load()),
		zap.Int64("finished", c.finished.Load()),
		zap.Int64("saturated_retries", c.retries.Load()),
		zap.Error(err))
	return snap, err
}

func (c *Controller) submitAll(ctx context.Context, reqs []*message.Request) error {
	for i, req := range reqs {
		for n := 0; n < c.exchanges[i].Repeat; n++ {
			if err := c.submit(ctx, req); err != nil {
				return fmt.Errorf("exchange %s: %w", c.exchanges[i].Name, err)
			}
		}
	}
	return nil
}

// submit retries a saturated submission until the pool has room again.
func (c *Controller) submit(ctx context.Context, req *message.Request) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		call, err := c.executor.ExecuteAsync(req, exchange.OutcomeFunc(c.onOutcome))
		if err == nil {
			c.submitted.Add(1)
			c.mu.Lock()
			c.calls = append(c.calls, call)
			c.mu.Unlock()
			return nil
		}
		if !errors.Is(err, errs.ErrQueueSaturated) {
			return err
		}
		if state := c.pools.Get().State(); state != worker.StateRunning {
			return fmt.Errorf("pool is %s: %w", state, err)
		}

		c.retries.Add(1)
		if err := c.waitForRoom(ctx); err != nil {
			return err
		}
	}
}

// waitForRoom blocks until the pool would admit another job: the queue has a
// free slot or the pool may still grow toward its maximum size. It also
// returns once the pool stops running, leaving the next submission to report
// why.
func (c *Controller) waitForRoom(ctx context.Context) error {
	ticker := time.NewTicker(c.backoff)
	defer ticker.Stop()

	pool := c.pools.Get()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if pool.State() != worker.StateRunning ||
				pool.Queued() < pool.QueueSize() ||
				pool.Workers() < pool.MaxSize() {
				return nil
			}
		}
	}
}

func (c *Controller) onOutcome(o exchange.Outcome) {
	c.finished.Add(1)
	if c.listener == nil {
		return
	}
	if f, ok := c.listener.(exchange.OutcomeFunc); ok {
		f(o)
		return
	}
	exchange.Route(o, c.listener)
}

func (c *Controller) snapshotCalls() []*exchange.Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*exchange.Call(nil), c.calls...)
}

func (c *Controller) await(ctx context.Context) error {
	for _, call := range c.snapshotCalls() {
		select {
		case <-call.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Controller) cancelAll() {
	n := 0
	for _, call := range c.snapshotCalls() {
		if call.Cancel(true) {
			n++
		}
	}
	if n > 0 {
		c.log.Info("cancelled in-flight exchanges", zap.Int("count", n))
	}
}

// drain waits for cancelled exchanges to be delivered, bounded so that a stuck
// poster cannot hang shutdown.
func (c *Controller) drain() {
	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()

	for _, call := range c.snapshotCalls() {
		select {
		case <-call.Done():
		case <-timer.C:
			c.log.Warn("exchanges still undelivered after cancellation")
			return
		}
	}
}

// rampUpLoop gradually increases the pool rate from 1/s to the target.
func (c *Controller) rampUpLoop(ctx context.Context) {
	defer c.wg.Done()

	start := time.Now()
	startRate := 1.0

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	pool := c.pools.Get()
	c.log.Info("starting ramp-up", zap.Duration("duration", c.rampUp), zap.Float64("target_rate", c.targetRate))
	pool.SetRate(startRate)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			if elapsed >= c.rampUp {
				pool.SetRate(c.targetRate)
				c.log.Info("ramp-up complete", zap.Float64("rate", c.targetRate))
				return
			}

			progress := float64(elapsed) / float64(c.rampUp)
			pool.SetRate(startRate + (c.targetRate-startRate)*progress)
		}
	}
}

// Status is a point-in-time view of a running batch.
type Status struct {
	Submitted        int64
	Finished         int64
	SaturatedRetries int64
	ActiveWorkers    int
	Queued           int
	Workers          int
}

// Status returns the current status.
func (c *Controller) Status() Status {
	pool := c.pools.Get()
	return Status{
		Submitted:        c.submitted.Load(),
		Finished:         c.finished.Load(),
		SaturatedRetries: c.retries.Load(),
		ActiveWorkers:    pool.Active(),
		Queued:           pool.Queued(),
		Workers:          pool.Workers(),
	}
}
