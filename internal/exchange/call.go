package exchange

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/volley/internal/worker"
	"github.com/volley/pkg/message"
)

// Call is the handle to one in-flight exchange.
type Call struct {
	id      uuid.UUID
	request *message.Request
	future  *worker.Future

	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func newCall(snap *message.Request) *Call {
	return &Call{
		id:      uuid.New(),
		request: snap,
		done:    make(chan struct{}),
	}
}

// ID identifies the exchange in logs.
func (c *Call) ID() string { return c.id.String() }

// Request returns the snapshot the exchange runs with.
func (c *Call) Request() *message.Request { return c.request }

// Cancel cancels the exchange. A queued exchange never runs; a running one is
// interrupted when mayInterrupt is set. Either way the listener receives
// OnCancelled instead of any other outcome. It reports false when the
// exchange already finished.
func (c *Call) Cancel(mayInterrupt bool) bool {
	return c.future.Cancel(mayInterrupt)
}

// Done is closed once the listener has been notified.
func (c *Call) Done() <-chan struct{} { return c.done }

// Outcome returns the terminal outcome. ok is false until Done is closed.
func (c *Call) Outcome() (o Outcome, ok bool) {
	select {
	case <-c.done:
		return c.outcome, true
	default:
		return Outcome{}, false
	}
}

// Wait blocks until the listener has been notified or ctx is done.
func (c *Call) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
		return c.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
