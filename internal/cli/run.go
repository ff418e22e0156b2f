package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/volley/internal/config"
	"github.com/volley/internal/controller"
	"github.com/volley/internal/health"
	"github.com/volley/internal/logging"
	"github.com/volley/internal/stats"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		metrics    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the exchanges listed in a config file",
		Long: `Run every configured exchange through the worker pool and print a summary.
This is useful for smoke tests in CI/CD pipelines.

Example:
  volley run --config volley.yaml
  VOLLEY_WORKER_RATE_LIMIT=50 volley run --config volley.yaml --metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, configPath, metrics)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "volley.yaml", "Path to configuration file")
	cmd.Flags().BoolVarP(&metrics, "metrics", "m", false, "Serve Prometheus metrics while running")
	return cmd
}

func runRun(cmd *cobra.Command, configPath string, withMetrics bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if len(cfg.Exchanges) == 0 {
		return fmt.Errorf("no exchanges configured in %s", configPath)
	}
	if withMetrics {
		cfg.Metrics.Enabled = true
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	p := newPrinter(cmd.OutOrStdout())
	p.printf("%s volley run (config: %s)\n", p.render(accentStyle, "◎"), configPath)
	p.row("Exchanges", fmt.Sprintf("%d", len(cfg.Exchanges)))
	p.row("Workers", fmt.Sprintf("%d/%d, queue %d", cfg.Worker.CoreSize, cfg.Worker.MaxSize, cfg.Worker.QueueSize))
	if cfg.Worker.RateLimit > 0 {
		p.row("Rate limit", fmt.Sprintf("%.0f/s", cfg.Worker.RateLimit))
	}

	eng := newEngine(cfg, log, nil)

	var srv *health.Server
	if cfg.Metrics.Enabled {
		srv = health.NewServer(cfg.Metrics, eng.registry, log)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		p.row("Metrics", cfg.Metrics.Address+cfg.Metrics.Path)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctl := controller.New(cfg.Exchanges, eng.executor, eng.pools, eng.recorder, log,
		controller.WithRampUp(cfg.Worker.RateLimit, cfg.Worker.RampUp))

	var (
		snap   stats.Snapshot
		runErr error
	)
	if p.styled {
		snap, runErr = runWithProgress(ctx, stop, ctl, totalExchanges(cfg.Exchanges), cmd.OutOrStdout())
	} else {
		snap, runErr = ctl.Run(ctx)
	}
	p.summary(snap)

	if err := eng.shutdown(true); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(shutdownCtx)
	}

	if errors.Is(runErr, context.Canceled) {
		p.printf("\n%s\n", p.render(warningStyle, "interrupted"))
		return nil
	}
	return runErr
}

func totalExchanges(exchanges []config.Exchange) int64 {
	var n int64
	for _, e := range exchanges {
		n += int64(e.Repeat)
	}
	return n
}
