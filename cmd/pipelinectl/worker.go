package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/velmie/pipeline-outbox"
	"github.com/velmie/pipeline-outbox/events"
	"github.com/velmie/pipeline-outbox/healthgate"
	"github.com/velmie/pipeline-outbox/healthgate/sqlcounter"
	"github.com/velmie/pipeline-outbox/internal/config"
	"github.com/velmie/pipeline-outbox/metrics"
	"github.com/velmie/pipeline-outbox/natsforward"
	"github.com/velmie/pipeline-outbox/retrylearn"
)

const (
	healthInterval  = time.Minute
	shutdownTimeout = 5 * time.Second
)

// ErrForwardingDisabled is returned by the worker when no delivery target is configured.
var ErrForwardingDisabled = errors.New("nats forwarding is disabled; set nats.enabled to run the worker")

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed)
}

func newWorkerCmd(a *app) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Deliver due events to NATS",
		Long: `worker claims due events and publishes each to NATS under
<subject_prefix>.<event type>.

Alongside delivery it reclaims stuck events, deletes old ones, records
source timing outcomes and, when enabled, serves Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.NATS.Enabled {
				return ErrForwardingDisabled
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return a.runWorker(ctx, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process a single batch and exit")

	return cmd
}

// forwardAll routes every pipeline event type to the forwarder.
func forwardAll(forwarder outbox.Handler) *outbox.HandlerRegistry {
	registry := outbox.NewHandlerRegistry()
	for _, t := range events.Types() {
		registry.Register(t.String(), forwarder)
	}

	return registry
}

// workerOptions builds the worker configuration. A nil learner keeps the static backoff.
// Categories only pick the delay: every failure is retried until its attempts run out.
func (a *app) workerOptions(prom *metrics.Prometheus, learner *retrylearn.Learner) []outbox.WorkerOption {
	cfg := a.cfg
	opts := []outbox.WorkerOption{
		outbox.WithBatchSize(cfg.Worker.BatchSize),
		outbox.WithPollInterval(cfg.Worker.PollInterval),
		outbox.WithWorkers(cfg.Worker.Workers),
		outbox.WithClock(a.clock),
		outbox.WithLogger(a.logger),
		outbox.WithErrorFormatter(retrylearn.FormatError),
	}
	if cfg.Worker.HandlerTimeout > 0 {
		opts = append(opts, outbox.WithHandlerTimeout(cfg.Worker.HandlerTimeout))
	}
	if prom != nil {
		opts = append(opts, outbox.WithMetrics(prom), outbox.WithStatsInterval(cfg.Worker.StatsInterval))
	}

	backoff := outbox.Backoff{Base: cfg.Backoff.Base, Cap: cfg.Backoff.Cap, Jitter: cfg.Backoff.Jitter}
	if learner == nil {
		return append(opts, outbox.WithRetryPolicy(backoff))
	}

	return append(opts,
		outbox.WithRetryPolicy(learner.RetryPolicy(backoff)),
		outbox.WithAttemptObserver(learner.AttemptObserver()),
	)
}

func (a *app) runWorker(ctx context.Context, once bool) error {
	cfg := a.cfg

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	natsCfg := natsforward.DefaultConfig()
	natsCfg.URL = cfg.NATS.URL
	conn, err := natsforward.Connect(natsCfg, a.logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	forwarder, err := natsforward.New(conn, cfg.NATS.SubjectPrefix)
	if err != nil {
		return err
	}

	var prom *metrics.Prometheus
	reg := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		prom = metrics.New(reg, metrics.DefaultNamespace)
	}

	var learner *retrylearn.Learner
	if cfg.Learner.Enabled {
		l, closeLearner, err := newLearner(cfg, b, a.logger)
		if err != nil {
			return err
		}
		defer closeLearner()
		learner = l
	}

	worker := outbox.NewWorker(b.store, forwardAll(forwarder), a.workerOptions(prom, learner)...)

	if once {
		result, err := worker.ProcessOnce(ctx)
		if err != nil {
			return err
		}
		printSuccess(a.out, "listed %d, claimed %d, completed %d, retried %d, failed %d",
			result.Listed, result.Claimed, result.Completed, result.Retried, result.Failed)

		return nil
	}

	reclaimer := outbox.NewReclaimer(b.store, outbox.ReclaimerConfig{
		StuckAfter: cfg.Reclaimer.StuckAfter,
		CheckEvery: cfg.Reclaimer.CheckEvery,
		Clock:      a.clock,
		Logger:     a.logger,
		Metrics:    reclaimMetrics(prom),
	})
	maintainer, err := newCleanupMaintainer(cfg, b, a.logger)
	if err != nil {
		return err
	}

	a.logger.Info("pipelinectl worker started",
		"driver", cfg.Database.Driver,
		"table", b.table,
		"nats", conn.ConnectedUrl(),
		"workers", cfg.Worker.Workers,
	)

	var monitor *healthgate.Monitor
	if prom != nil && cfg.Health.QueriesFile != "" {
		if monitor, err = newHealthMonitor(cfg, b, a); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return reclaimer.Run(ctx) })
	g.Go(func() error { return maintainer.Run(ctx) })
	if prom != nil {
		g.Go(func() error { return serveMetrics(ctx, cfg.Metrics.Addr, reg) })
	}
	if monitor != nil {
		g.Go(func() error { return reportHealth(ctx, monitor, prom) })
	}

	if err := g.Wait(); err != nil && !isShutdown(err) {
		return err
	}
	a.logger.Info("pipelinectl worker stopped")

	return nil
}

func reclaimMetrics(prom *metrics.Prometheus) outbox.Metrics {
	if prom == nil {
		return nil
	}

	return prom
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}

		return ctx.Err()
	}
}

func reportHealth(ctx context.Context, monitor *healthgate.Monitor, prom *metrics.Prometheus) error {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		prom.SetHealth(monitor.Check(ctx))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func newHealthMonitor(cfg *config.Config, b *backend, a *app) (*healthgate.Monitor, error) {
	queries, err := sqlcounter.LoadConfig(cfg.Health.QueriesFile)
	if err != nil {
		return nil, err
	}
	source, err := sqlcounter.New(b.db, queries)
	if err != nil {
		return nil, err
	}

	return healthgate.NewMonitor(source,
		healthgate.WithClock(a.clock),
		healthgate.WithLogger(a.logger),
	), nil
}
