package exchange

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/volley/internal/config"
	"github.com/volley/internal/health"
	"github.com/volley/internal/mainloop"
	"github.com/volley/internal/worker"
	"github.com/volley/pkg/errs"
	"github.com/volley/pkg/message"
	"github.com/volley/pkg/protocol"
)

// recordingListener records every callback it receives.
type recordingListener struct {
	BaseListener

	mu    sync.Mutex
	calls []string
	resp  *message.Response
	req   *message.Request
	err   error
}

func (l *recordingListener) record(name string, resp *message.Response) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
	l.resp = resp
}

func (l *recordingListener) OnGetCompleted(r *message.Response)    { l.record("get", r) }
func (l *recordingListener) OnPostCompleted(r *message.Response)   { l.record("post", r) }
func (l *recordingListener) OnPutCompleted(r *message.Response)    { l.record("put", r) }
func (l *recordingListener) OnDeleteCompleted(r *message.Response) { l.record("delete", r) }
func (l *recordingListener) OnClientError(r *message.Response)     { l.record("client_error", r) }
func (l *recordingListener) OnServerError(r *message.Response)     { l.record("server_error", r) }
func (l *recordingListener) OnCancelled()                          { l.record("cancelled", nil) }

func (l *recordingListener) OnTransferFailed(req *message.Request, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "transfer_failed")
	l.req = req
	l.err = err
}

func (l *recordingListener) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func newTestPool(t *testing.T, core, max, queue int) *worker.Pool {
	t.Helper()
	p := worker.NewPool(config.Worker{
		CoreSize:     core,
		MaxSize:      max,
		QueueSize:    queue,
		IdleTimeout:  time.Minute,
		DrainTimeout: 5 * time.Second,
	}, zap.NewNop())
	t.Cleanup(func() { p.Terminate(false) })
	return p
}

func newTestExecutor(t *testing.T, pool *worker.Pool, opts ...Option) *Executor {
	t.Helper()
	e := New(pool, protocol.NewHTTPClient(protocol.ClientConfig{}), opts...)
	t.Cleanup(func() { e.Close() })
	return e
}

func wait(t *testing.T, c *Call) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := c.Wait(ctx)
	require.NoError(t, err)
	return o
}

func statusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		io.WriteString(w, "body")
	}))
	t.Cleanup(srv.Close)
	return srv
}

// blockPool occupies every worker and queue slot of a 1/1/n pool until the
// returned function is called.
func blockPool(t *testing.T, p *worker.Pool) func() {
	t.Helper()
	release := make(chan struct{})
	started := make(chan struct{})
	_, err := p.Submit(worker.Job{Name: "block", Run: func(ctx context.Context) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
	}})
	require.NoError(t, err)
	<-started

	var once sync.Once
	return func() { once.Do(func() { close(release) }) }
}

func TestGetCompleted(t *testing.T) {
	srv := statusServer(t, http.StatusOK)
	reg := prometheus.NewRegistry()
	metrics := health.NewMetrics(reg)
	e := newTestExecutor(t, newTestPool(t, 2, 2, 2), WithMetrics(metrics))

	l := &recordingListener{}
	call, err := e.ExecuteAsync(message.NewRequest(srv.URL, message.MethodGet), l)
	require.NoError(t, err)
	assert.NotEmpty(t, call.ID())

	o := wait(t, call)
	assert.Equal(t, KindCompleted, o.Kind)
	assert.Equal(t, []string{"get"}, l.Calls())
	require.NotNil(t, l.resp)
	assert.Equal(t, 200, l.resp.StatusCode())
	assert.Nil(t, l.resp.Error())
	assert.Equal(t, "body", string(l.resp.Body()))
	assert.Same(t, call.Request(), l.resp.Request())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ExchangesTotal.WithLabelValues("GET", "completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))
}

func TestEachMethodCompletes(t *testing.T) {
	srv := statusServer(t, http.StatusNoContent)
	e := newTestExecutor(t, newTestPool(t, 2, 2, 4))

	tests := []struct {
		req  *message.Request
		want string
	}{
		{message.NewRequest(srv.URL, message.MethodGet), "get"},
		{message.NewRequest(srv.URL, message.MethodDelete), "delete"},
		{message.NewEntityRequest(srv.URL, message.MethodPost, message.ContentTypeJSON, message.EncodingUTF8), "post"},
		{message.NewEntityRequest(srv.URL, message.MethodPut, message.ContentTypeForm, message.EncodingUTF8), "put"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			l := &recordingListener{}
			call, err := e.ExecuteAsync(tt.req, l)
			require.NoError(t, err)
			wait(t, call)
			assert.Equal(t, []string{tt.want}, l.Calls())
		})
	}
}

func TestServerError(t *testing.T) {
	srv := statusServer(t, http.StatusServiceUnavailable)
	e := newTestExecutor(t, newTestPool(t, 1, 1, 1))

	l := &recordingListener{}
	call, err := e.ExecuteAsync(message.NewRequest(srv.URL, message.MethodGet), l)
	require.NoError(t, err)

	o := wait(t, call)
	assert.Equal(t, KindServerError, o.Kind)
	assert.Equal(t, []string{"server_error"}, l.Calls())
	require.NotNil(t, l.resp.Error())
	assert.Equal(t, "503 Service Unavailable", l.resp.Error().Message)
}

func TestClientError(t *testing.T) {
	srv := statusServer(t, http.StatusNotFound)
	e := newTestExecutor(t, newTestPool(t, 1, 1, 1))

	l := &recordingListener{}
	call, err := e.ExecuteAsync(message.NewRequest(srv.URL, message.MethodDelete), l)
	require.NoError(t, err)

	o := wait(t, call)
	assert.Equal(t, KindClientError, o.Kind)
	assert.Equal(t, []string{"client_error"}, l.Calls())
	require.NotNil(t, l.resp.Error())
	assert.Equal(t, "404 Not Found", l.resp.Error().Message)
}

func TestPostSendsEncodedBody(t *testing.T) {
	type seen struct {
		body, contentType, cookie, trace string
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- seen{string(b), r.Header.Get("Content-Type"), r.Header.Get("Cookie"), r.Header.Get("X-Trace")}
	}))
	defer srv.Close()

	e := newTestExecutor(t, newTestPool(t, 1, 1, 1))

	req := message.NewEntityRequest(srv.URL, message.MethodPost, message.ContentTypeForm, message.EncodingUTF8)
	req.Parameters().Add(message.Parameter{Name: "a", Value: "1"})
	req.Parameters().Add(message.Parameter{Name: "b", Value: "2"})
	req.Parameters().Add(message.Parameter{Name: "a", Value: "3"})
	req.Headers().Add(message.Header{Name: "X-Trace", Value: "t1"})
	req.Cookies().Add(message.Cookie{Name: "sid", Value: "42"})

	l := &recordingListener{}
	call, err := e.ExecuteAsync(req, l)
	require.NoError(t, err)
	wait(t, call)

	s := <-got
	assert.Equal(t, "b=2&a=3", s.body)
	assert.Equal(t, "application/x-www-form-urlencoded; charset=UTF-8", s.contentType)
	assert.Equal(t, "sid=42", s.cookie)
	assert.Equal(t, "t1", s.trace)
	assert.Equal(t, []string{"post"}, l.Calls())
}

func TestExecuteAsyncValidation(t *testing.T) {
	pool := newTestPool(t, 1, 1, 1)
	e := newTestExecutor(t, pool)

	tests := []struct {
		name string
		req  *message.Request
		l    Listener
	}{
		{"nil request", nil, &recordingListener{}},
		{"empty url", message.NewRequest("", message.MethodGet), &recordingListener{}},
		{"malformed url", message.NewRequest("::bad", message.MethodGet), &recordingListener{}},
		{"relative url", message.NewRequest("/relative/path", message.MethodGet), &recordingListener{}},
		{"missing host", message.NewRequest("http://", message.MethodGet), &recordingListener{}},
		{"unknown scheme", message.NewRequest("ftp://example.com/file", message.MethodGet), &recordingListener{}},
		{"nil listener", message.NewRequest("http://example.com", message.MethodGet), nil},
		{"nil outcome func", message.NewRequest("http://example.com", message.MethodGet), OutcomeFunc(nil)},
		{"unsupported method", message.NewRequest("http://example.com", message.Method("PATCH")), &recordingListener{}},
		{"unsupported content type", message.NewEntityRequest("http://example.com", message.MethodPost, "image/png", message.EncodingUTF8), &recordingListener{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := e.ExecuteAsync(tt.req, tt.l)
			assert.Nil(t, call)
			assert.ErrorIs(t, err, errs.ErrInvalidArgument)
			assert.Equal(t, 0, pool.Queued())
			assert.Equal(t, 0, pool.Workers())
		})
	}
}

func TestTransferFailed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := newTestExecutor(t, newTestPool(t, 1, 1, 1))
	l := &recordingListener{}
	call, err := e.ExecuteAsync(message.NewRequest(url, message.MethodGet), l)
	require.NoError(t, err)

	o := wait(t, call)
	assert.Equal(t, KindTransferFailed, o.Kind)
	assert.Nil(t, o.Response)
	assert.Equal(t, []string{"transfer_failed"}, l.Calls())
	assert.ErrorIs(t, l.err, errs.ErrTransferFailed)
	assert.Same(t, call.Request(), l.req)
}

func TestCancelQueuedExchange(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	pool := newTestPool(t, 1, 1, 2)
	release := blockPool(t, pool)
	defer release()

	e := newTestExecutor(t, pool)
	l := &recordingListener{}
	call, err := e.ExecuteAsync(message.NewRequest(srv.URL, message.MethodGet), l)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Queued())

	assert.True(t, call.Cancel(false))
	o := wait(t, call)
	assert.Equal(t, KindCancelled, o.Kind)
	assert.Equal(t, []string{"cancelled"}, l.Calls())
	assert.Equal(t, 0, pool.Queued(), "cancelled exchange leaves the queue")

	release()
	assert.Eventually(t, func() bool { return pool.Active() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), hits.Load())
	assert.False(t, call.Cancel(true))
}

func TestCancelRunningExchange(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	e := newTestExecutor(t, newTestPool(t, 1, 1, 1))
	l := &recordingListener{}
	call, err := e.ExecuteAsync(message.NewRequest(srv.URL, message.MethodGet), l)
	require.NoError(t, err)

	<-started
	assert.True(t, call.Cancel(true))

	o := wait(t, call)
	assert.Equal(t, KindCancelled, o.Kind)
	assert.Equal(t, []string{"cancelled"}, l.Calls())
}

func TestSnapshotIsolation(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Id")
	}))
	defer srv.Close()

	pool := newTestPool(t, 1, 1, 2)
	release := blockPool(t, pool)

	e := newTestExecutor(t, pool)
	req := message.NewRequest(srv.URL, message.MethodGet)
	req.Headers().Add(message.Header{Name: "X-Id", Value: "before"})

	call, err := e.ExecuteAsync(req, &recordingListener{})
	require.NoError(t, err)

	req.Headers().Clear()
	req.Headers().Add(message.Header{Name: "X-Id", Value: "after"})
	release()

	wait(t, call)
	assert.Equal(t, "before", <-got)
}

func TestQueueSaturatedPassesThrough(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := health.NewMetrics(reg)

	pool := newTestPool(t, 1, 1, 1)
	release := blockPool(t, pool)
	defer release()
	_, err := pool.Submit(worker.Job{Name: "filler", Run: func(context.Context) {}})
	require.NoError(t, err)

	e := newTestExecutor(t, pool, WithMetrics(metrics))
	call, err := e.ExecuteAsync(message.NewRequest("http://example.com", message.MethodGet), &recordingListener{})
	assert.Nil(t, call)
	assert.ErrorIs(t, err, errs.ErrQueueSaturated)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))
}

func TestTerminatedPoolDeliversCancelled(t *testing.T) {
	pool := newTestPool(t, 1, 1, 1)
	require.NoError(t, pool.Terminate(true))

	e := newTestExecutor(t, pool)
	l := &recordingListener{}
	call, err := e.ExecuteAsync(message.NewRequest("http://example.com", message.MethodGet), l)
	require.NoError(t, err)
	require.NotNil(t, call)

	o, ok := call.Outcome()
	require.True(t, ok)
	assert.Equal(t, KindCancelled, o.Kind)
	assert.Equal(t, []string{"cancelled"}, l.Calls())
}

func TestDeliveryThroughPoster(t *testing.T) {
	srv := statusServer(t, http.StatusOK)
	loop := mainloop.New()

	e := newTestExecutor(t, newTestPool(t, 1, 1, 1), WithPoster(loop))
	onLoop := make(chan bool, 1)
	call, err := e.ExecuteAsync(message.NewRequest(srv.URL, message.MethodGet), OutcomeFunc(func(o Outcome) {
		onLoop <- o.Kind == KindCompleted
	}))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return loop.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	_, ok := call.Outcome()
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	wait(t, call)
	assert.True(t, <-onLoop)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) Record(method, outcome string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[method+" "+outcome]++
}

func TestRecorderObservesOutcomes(t *testing.T) {
	ok := statusServer(t, http.StatusOK)
	bad := statusServer(t, http.StatusBadGateway)

	rec := &countingRecorder{counts: map[string]int{}}
	e := newTestExecutor(t, newTestPool(t, 2, 2, 4), WithRecorder(rec))

	var calls []*Call
	for _, u := range []string{ok.URL, ok.URL, bad.URL} {
		c, err := e.ExecuteAsync(message.NewRequest(u, message.MethodGet), &BaseListener{})
		require.NoError(t, err)
		calls = append(calls, c)
	}
	for _, c := range calls {
		wait(t, c)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, map[string]int{"GET completed": 2, "GET server_error": 1}, rec.counts)
}
