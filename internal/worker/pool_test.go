package worker

import (
	"context"
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
	"github.com/volley/pkg/errs"
)

func testConfig(core, max, queue int) config.Worker {
	return config.Worker{
		CoreSize:     core,
		MaxSize:      max,
		QueueSize:    queue,
		IdleTimeout:  time.Minute,
		DrainTimeout: 5 * time.Second,
	}
}

// blockingJob runs until release is closed or its context is cancelled.
func blockingJob(release <-chan struct{}, done *int32) Job {
	return Job{
		Name: "block",
		Run: func(ctx context.Context) {
			select {
			case <-release:
			case <-ctx.Done():
			}
		},
		Done: func() { atomic.AddInt32(done, 1) },
	}
}

func TestSubmitRejectsNilTask(t *testing.T) {
	p := NewPool(testConfig(1, 1, 1), zap.NewNop())
	defer p.Terminate(false)

	f, err := p.Submit(Job{Name: "empty"})
	assert.Nil(t, f)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	assert.Equal(t, 0, p.Queued())
	assert.Equal(t, 0, p.Workers())
}

func TestSaturationWithDefaults(t *testing.T) {
	cfg := config.DefaultConfig().Worker
	reg := prometheus.NewRegistry()
	metrics := health.NewMetrics(reg)
	p := NewPool(cfg, zap.NewNop(), WithMetrics(metrics))

	release := make(chan struct{})
	var done int32

	capacity := cfg.MaxSize + cfg.QueueSize
	saturated := 0
	for i := 0; i < capacity+5; i++ {
		_, err := p.Submit(blockingJob(release, &done))
		if err != nil {
			require.ErrorIs(t, err, errs.ErrQueueSaturated)
			saturated++
		}
	}

	assert.Equal(t, 5, saturated)
	assert.Equal(t, cfg.MaxSize, p.Workers())
	assert.Equal(t, cfg.QueueSize, p.Queued())
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.Rejections.WithLabelValues("saturated")))

	close(release)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&done) == int32(capacity)
	}, 5*time.Second, 10*time.Millisecond)

	// Backlog drained: no further saturation signals.
	for i := 0; i < cfg.QueueSize; i++ {
		_, err := p.Submit(blockingJob(release, &done))
		require.NoError(t, err)
	}
	require.NoError(t, p.Terminate(true))
	assert.Equal(t, StateTerminated, p.State())
}

func TestAdmissionOrder(t *testing.T) {
	p := NewPool(testConfig(1, 2, 1), zap.NewNop())
	release := make(chan struct{})
	var done int32

	_, err := p.Submit(blockingJob(release, &done))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Workers())

	_, err = p.Submit(blockingJob(release, &done))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Workers(), "second job queues before growing past core")
	assert.Equal(t, 1, p.Queued())

	_, err = p.Submit(blockingJob(release, &done))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Workers(), "full queue grows toward max")

	_, err = p.Submit(blockingJob(release, &done))
	assert.ErrorIs(t, err, errs.ErrQueueSaturated)

	close(release)
	require.NoError(t, p.Terminate(true))
	assert.Equal(t, int32(3), atomic.LoadInt32(&done))
}

func TestQueuedJobsRunInOrder(t *testing.T) {
	p := NewPool(testConfig(1, 1, 10), zap.NewNop())
	release := make(chan struct{})
	var done int32
	_, err := p.Submit(blockingJob(release, &done))
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		_, err := p.Submit(Job{Run: func(context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}})
		require.NoError(t, err)
	}

	close(release)
	require.NoError(t, p.Terminate(true))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestCancelQueuedJob(t *testing.T) {
	p := NewPool(testConfig(1, 1, 5), zap.NewNop())
	defer p.Terminate(false)

	release := make(chan struct{})
	defer close(release)
	var done int32
	_, err := p.Submit(blockingJob(release, &done))
	require.NoError(t, err)

	var ran, cancelled int32
	f, err := p.Submit(Job{
		Run:       func(context.Context) { atomic.AddInt32(&ran, 1) },
		Done:      func() { t.Error("Done must not fire for a cancelled job") },
		Cancelled: func() { atomic.AddInt32(&cancelled, 1) },
	})
	require.NoError(t, err)

	assert.True(t, f.Cancel(false))
	assert.False(t, f.Cancel(false))
	assert.Equal(t, FutureCancelled, f.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
	<-f.Finished()

	release <- struct{}{}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestCancelRunningJob(t *testing.T) {
	p := NewPool(testConfig(1, 1, 1), zap.NewNop())
	defer p.Terminate(false)

	started := make(chan struct{})
	var cancelled, completed int32
	f, err := p.Submit(Job{
		Run: func(ctx context.Context) {
			close(started)
			<-ctx.Done()
		},
		Done:      func() { atomic.AddInt32(&completed, 1) },
		Cancelled: func() { atomic.AddInt32(&cancelled, 1) },
	})
	require.NoError(t, err)
	<-started

	assert.Equal(t, FutureRunning, f.State())
	assert.True(t, f.Cancel(true))

	select {
	case <-f.Finished():
	case <-time.After(2 * time.Second):
		t.Fatal("interrupted job did not finish")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
	assert.Equal(t, int32(0), atomic.LoadInt32(&completed))
	assert.False(t, f.Cancel(true))
}

func TestTerminateWithoutWait(t *testing.T) {
	p := NewPool(testConfig(1, 1, 5), zap.NewNop())

	var cancelled int32
	job := func() Job {
		return Job{
			Run:       func(ctx context.Context) { <-ctx.Done() },
			Cancelled: func() { atomic.AddInt32(&cancelled, 1) },
		}
	}
	for i := 0; i < 4; i++ {
		_, err := p.Submit(job())
		require.NoError(t, err)
	}

	require.NoError(t, p.Terminate(false))
	assert.NotEqual(t, StateRunning, p.State())

	select {
	case <-p.Terminated():
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not terminate")
	}
	assert.Equal(t, StateTerminated, p.State())
	assert.Equal(t, int32(4), atomic.LoadInt32(&cancelled))
}

func TestSubmitWhileDraining(t *testing.T) {
	p := NewPool(testConfig(1, 1, 1), zap.NewNop())
	release := make(chan struct{})
	var done int32
	_, err := p.Submit(blockingJob(release, &done))
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() { result <- p.Terminate(true) }()

	require.Eventually(t, func() bool { return p.State() == StateDraining }, time.Second, time.Millisecond)
	_, err = p.Submit(blockingJob(release, &done))
	assert.ErrorIs(t, err, errs.ErrQueueSaturated)

	close(release)
	require.NoError(t, <-result)
}

func TestSubmitAfterTerminatedIsDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := health.NewMetrics(reg)
	p := NewPool(testConfig(1, 1, 1), zap.NewNop(), WithMetrics(metrics))
	require.NoError(t, p.Terminate(true))

	var cancelled int32
	f, err := p.Submit(Job{
		Run:       func(context.Context) { t.Error("must not run") },
		Cancelled: func() { atomic.AddInt32(&cancelled, 1) },
	})
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, FutureCancelled, f.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Rejections.WithLabelValues("terminated")))
}

func TestDrainTimeout(t *testing.T) {
	cfg := testConfig(1, 1, 1)
	cfg.DrainTimeout = 50 * time.Millisecond
	p := NewPool(cfg, zap.NewNop())

	release := make(chan struct{})
	defer close(release)
	_, err := p.Submit(Job{Run: func(context.Context) { <-release }})
	require.NoError(t, err)

	assert.ErrorIs(t, p.Terminate(true), errs.ErrDrainTimeout)
	assert.Equal(t, StateDraining, p.State())
}

func TestIdleWorkersExit(t *testing.T) {
	cfg := testConfig(2, 2, 1)
	cfg.IdleTimeout = 20 * time.Millisecond
	p := NewPool(cfg, zap.NewNop())
	defer p.Terminate(false)

	var done int32
	_, err := p.Submit(Job{Run: func(context.Context) {}, Done: func() { atomic.AddInt32(&done, 1) }})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return p.Workers() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&done))

	_, err = p.Submit(Job{Run: func(context.Context) {}, Done: func() { atomic.AddInt32(&done, 1) }})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&done) == 2 }, time.Second, 5*time.Millisecond)
}

func TestCounts(t *testing.T) {
	p := NewPool(testConfig(1, 1, 5), zap.NewNop())
	release := make(chan struct{})
	var done int32

	started := make(chan struct{})
	_, err := p.Submit(Job{Run: func(context.Context) {
		close(started)
		<-release
	}})
	require.NoError(t, err)
	<-started

	for i := 0; i < 3; i++ {
		_, err := p.Submit(blockingJob(release, &done))
		require.NoError(t, err)
	}

	assert.Equal(t, 1, p.Active())
	assert.Equal(t, 3, p.Queued())
	assert.Equal(t, 2, p.Uncompleted())
	assert.Equal(t, 1, p.CoreSize())
	assert.Equal(t, 1, p.MaxSize())

	assert.Equal(t, 3, p.ClearQueue())
	assert.Equal(t, 0, p.Queued())

	close(release)
	require.NoError(t, p.Terminate(true))
	assert.Equal(t, int32(0), atomic.LoadInt32(&done))
}

func TestPanickingJobDoesNotKillWorker(t *testing.T) {
	p := NewPool(testConfig(1, 1, 2), zap.NewNop())

	var done int32
	_, err := p.Submit(Job{Run: func(context.Context) { panic("boom") }, Done: func() { atomic.AddInt32(&done, 1) }})
	require.NoError(t, err)
	_, err = p.Submit(Job{Run: func(context.Context) {}, Done: func() { atomic.AddInt32(&done, 1) }})
	require.NoError(t, err)

	require.NoError(t, p.Terminate(true))
	assert.Equal(t, int32(2), atomic.LoadInt32(&done))
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(1, 1, 10)
	cfg.RateLimit = 20
	p := NewPool(cfg, zap.NewNop())

	var done int32
	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := p.Submit(Job{Run: func(context.Context) {}, Done: func() { atomic.AddInt32(&done, 1) }})
		require.NoError(t, err)
	}
	require.NoError(t, p.Terminate(true))

	assert.Equal(t, int32(5), atomic.LoadInt32(&done))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestRunOnPrimary(t *testing.T) {
	loop := mainloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	p := NewPool(testConfig(1, 1, 1), zap.NewNop(), WithPrimary(loop))
	defer p.Terminate(false)

	ran := make(chan bool, 1)
	require.NoError(t, loop.PostContext(func(ctx context.Context) {
		ran <- p.OnPrimary(ctx)
	}))
	assert.True(t, <-ran)
	assert.False(t, p.OnPrimary(context.Background()))

	hit := make(chan struct{})
	require.NoError(t, p.RunOnPrimary(func() { close(hit) }))
	<-hit

	assert.ErrorIs(t, p.RunOnPrimary(nil), errs.ErrInvalidArgument)

	bare := NewPool(testConfig(1, 1, 1), zap.NewNop())
	assert.ErrorIs(t, bare.RunOnPrimary(func() {}), errs.ErrInvalidArgument)
}

func TestLazy(t *testing.T) {
	var built int32
	lazy := NewLazy(func() *Pool {
		atomic.AddInt32(&built, 1)
		return NewPool(testConfig(1, 1, 1), zap.NewNop())
	})

	_, ok := lazy.Loaded()
	assert.False(t, ok)

	var wg sync.WaitGroup
	pools := make([]*Pool, 10)
	for i := range pools {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pools[i] = lazy.Get()
		}(i)
	}
	wg.Wait()

	for _, p := range pools {
		assert.Same(t, pools[0], p)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&built))

	p, ok := lazy.Loaded()
	assert.True(t, ok)
	require.NoError(t, p.Terminate(true))
}

func TestCancelQueuedJobFreesSlot(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := health.NewMetrics(reg)
	p := NewPool(testConfig(1, 1, 1), zap.NewNop(), WithMetrics(metrics))
	release := make(chan struct{})
	var done int32

	started := make(chan struct{})
	_, err := p.Submit(Job{Run: func(context.Context) {
		close(started)
		<-release
	}})
	require.NoError(t, err)
	<-started

	var cancelled int32
	queued, err := p.Submit(Job{
		Name:      "queued",
		Run:       func(context.Context) { t.Error("cancelled job ran") },
		Cancelled: func() { atomic.AddInt32(&cancelled, 1) },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Queued())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QueuedTasks))

	require.True(t, queued.Cancel(false))
	assert.Equal(t, FutureCancelled, queued.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
	assert.Equal(t, 0, p.Queued())
	assert.Equal(t, -1, p.Uncompleted())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.QueuedTasks))

	// The freed slot admits the next job.
	next, err := p.Submit(blockingJob(release, &done))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Queued())

	close(release)
	require.NoError(t, p.Terminate(true))
	assert.Equal(t, FutureDone, next.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&done))
	assert.False(t, queued.Cancel(false))
}

func TestCancelMiddleOfQueueKeepsOrder(t *testing.T) {
	p := NewPool(testConfig(1, 1, 3), zap.NewNop())
	release := make(chan struct{})

	started := make(chan struct{})
	_, err := p.Submit(Job{Run: func(context.Context) {
		close(started)
		<-release
	}})
	require.NoError(t, err)
	<-started

	var mu sync.Mutex
	var order []string
	futures := make([]*Future, 3)
	for i, name := range []string{"a", "b", "c"} {
		futures[i], err = p.Submit(Job{Name: name, Run: func(context.Context) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}})
		require.NoError(t, err)
	}

	require.True(t, futures[1].Cancel(true))
	assert.Equal(t, 2, p.Queued())

	close(release)
	require.NoError(t, p.Terminate(true))
	assert.Equal(t, []string{"a", "c"}, order)
}

func TestRecoveredJobPanics(t *testing.T) {
	p := NewPool(testConfig(1, 1, 1), zap.NewNop())
	defer p.Terminate(false)
	f := newFuture(context.Background(), Job{Name: "boom"})

	assert.NotPanics(t, func() { p.recovered(f, "plain panic") })
	assert.PanicsWithError(t, "internal invariant violation: unknown method", func() {
		p.recovered(f, errs.Invariant("unknown method"))
	})
}
