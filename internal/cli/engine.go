package cli

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/volley/internal/config"
	"github.com/volley/internal/exchange"
	"github.com/volley/internal/health"
	"github.com/volley/internal/mainloop"
	"github.com/volley/internal/stats"
	"github.com/volley/internal/worker"
	"github.com/volley/pkg/protocol"
)

// engine wires the pool, transfer clients and executor for one command.
type engine struct {
	registry *prometheus.Registry
	metrics  *health.Metrics
	pools    *worker.Lazy
	recorder *stats.Recorder
	executor *exchange.Executor
	log      *zap.Logger
}

// newEngine builds the engine. When loop is set, outcomes are delivered on it.
func newEngine(cfg *config.Config, log *zap.Logger, loop *mainloop.Loop) *engine {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := health.NewMetrics(reg)

	poolOpts := []worker.Option{worker.WithMetrics(metrics)}
	if loop != nil {
		poolOpts = append(poolOpts, worker.WithPrimary(loop))
	}
	pools := worker.NewLazy(func() *worker.Pool {
		return worker.NewPool(cfg.Worker, log, poolOpts...)
	})

	clientCfg := protocol.ConfigFrom(cfg.Client)
	grpcClient := protocol.NewGRPCClient(clientCfg)
	recorder := stats.NewRecorder()

	execOpts := []exchange.Option{
		exchange.WithMetrics(metrics),
		exchange.WithLogger(log),
		exchange.WithTimeout(cfg.Client.Timeout),
		exchange.WithRecorder(recorder),
		exchange.WithSchemeClient("grpc", grpcClient),
		exchange.WithSchemeClient("grpcs", grpcClient),
	}
	if loop != nil {
		execOpts = append(execOpts, exchange.WithPoster(loop))
	}

	return &engine{
		registry: reg,
		metrics:  metrics,
		pools:    pools,
		recorder: recorder,
		executor: exchange.New(pools, protocol.NewClient(cfg.Client.Protocol, clientCfg), execOpts...),
		log:      log,
	}
}

// shutdown drains the pool and closes the transfer clients.
func (e *engine) shutdown(wait bool) error {
	var errPool error
	if p, ok := e.pools.Loaded(); ok {
		errPool = p.Terminate(wait)
	}
	return errors.Join(errPool, e.executor.Close())
}
