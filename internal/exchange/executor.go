// Package exchange runs request descriptors asynchronously on the worker pool
// and reports a single classified outcome per exchange.
package exchange

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/volley/internal/health"
	"github.com/volley/internal/worker"
	"github.com/volley/pkg/errs"
	"github.com/volley/pkg/message"
	"github.com/volley/pkg/protocol"
)

// Recorder observes every terminal outcome, after the listener was notified.
type Recorder interface {
	Record(method, outcome string, d time.Duration)
}

// Option configures an Executor.
type Option func(*Executor)

// WithPoster delivers outcomes through p, typically the primary loop.
func WithPoster(p worker.Poster) Option {
	return func(e *Executor) { e.poster = p }
}

// WithMetrics publishes in-flight and per-outcome metrics.
func WithMetrics(m *health.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the logger. The executor logs under the "exchange" name.
func WithLogger(log *zap.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// WithTimeout bounds each transfer. Zero leaves it to the client.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithRecorder attaches an outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithSchemeClient routes urls with the given scheme to c.
func WithSchemeClient(scheme string, c protocol.Client) Option {
	return func(e *Executor) { e.clients[strings.ToLower(scheme)] = c }
}

// Executor performs exchanges on a worker pool.
type Executor struct {
	pools    worker.Source
	clients  map[string]protocol.Client
	poster   worker.Poster
	metrics  *health.Metrics
	recorder Recorder
	log      *zap.Logger
	timeout  time.Duration
	now      func() time.Time
}

// New returns an executor that submits to the pool supplied by pools and
// transfers http and https urls through client. The pool is requested on the
// first submission, not here.
func New(pools worker.Source, client protocol.Client, opts ...Option) *Executor {
	e := &Executor{
		pools: pools,
		clients: map[string]protocol.Client{
			"http":  client,
			"https": client,
		},
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("exchange")
	return e
}

// ExecuteAsync validates req and l, snapshots req and queues the exchange.
// Validation failures wrap errs.ErrInvalidArgument and nothing is queued.
// A full or draining pool yields errs.ErrQueueSaturated. Later changes to req
// do not affect the queued exchange.
func (e *Executor) ExecuteAsync(req *message.Request, l Listener) (*Call, error) {
	if req == nil {
		return nil, errs.Invalid("request cannot be nil")
	}
	client, err := e.clientFor(req.URL())
	if err != nil {
		return nil, err
	}
	if isNil(l) {
		return nil, errs.Invalid("listener cannot be nil")
	}
	if !req.Method().Valid() {
		return nil, errs.Invalid("unsupported method %q", req.Method())
	}

	snap := req.Snapshot(e.now())
	out, err := e.prepare(snap)
	if err != nil {
		return nil, err
	}

	call := newCall(snap)
	var raw *protocol.Response

	job := worker.Job{
		Name: string(snap.Method()) + " " + snap.URL(),
		Run: func(ctx context.Context) {
			raw = e.transfer(ctx, client, snap, out)
		},
		Done: func() {
			e.deliver(call, l, classify(snap, raw))
		},
		Cancelled: func() {
			e.deliver(call, l, Outcome{Kind: KindCancelled, Method: snap.Method(), Request: snap})
		},
	}

	e.metrics.IncInFlight()
	f, err := e.pools.Get().Submit(job)
	if err != nil {
		e.metrics.DecInFlight()
		return nil, err
	}
	call.future = f

	e.log.Debug("exchange queued",
		zap.String("id", call.ID()),
		zap.String("method", string(snap.Method())),
		zap.String("url", snap.URL()))
	return call, nil
}

// Close releases every transfer client.
func (e *Executor) Close() error {
	seen := make(map[protocol.Client]bool)
	var first error
	for _, c := range e.clients {
		if c == nil || seen[c] {
			continue
		}
		seen[c] = true
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (e *Executor) clientFor(raw string) (protocol.Client, error) {
	if raw == "" {
		return nil, errs.Invalid("url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errs.Invalid("malformed url %q: %v", raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, errs.Invalid("url %q is not absolute", raw)
	}
	c, ok := e.clients[strings.ToLower(u.Scheme)]
	if !ok || c == nil {
		return nil, errs.Invalid("no transfer client for scheme %q", u.Scheme)
	}
	return c, nil
}

// deliver records o and notifies l once per call.
func (e *Executor) deliver(call *Call, l Listener, o Outcome) {
	call.once.Do(func() {
		call.outcome = o

		var d time.Duration
		if o.Response != nil {
			d = o.Response.Duration()
		}
		e.metrics.DecInFlight()
		e.metrics.RecordExchange(string(o.Method), o.Kind.String(), d.Seconds())

		if o.Kind == KindTransferFailed {
			e.log.Warn("transfer failed",
				zap.String("id", call.ID()),
				zap.String("url", o.Request.URL()),
				zap.Error(o.Err))
		} else {
			e.log.Debug("exchange finished",
				zap.String("id", call.ID()),
				zap.Stringer("outcome", o.Kind))
		}

		notify := func() {
			defer close(call.done)
			if f, ok := l.(OutcomeFunc); ok {
				f(o)
			} else {
				Route(o, l)
			}
			if e.recorder != nil {
				e.recorder.Record(string(o.Method), o.Kind.String(), d)
			}
		}

		if e.poster != nil {
			err := e.poster.Post(notify)
			if err == nil {
				return
			}
			e.log.Warn("primary loop unavailable, delivering on worker", zap.Error(err))
		}
		notify()
	})
}
