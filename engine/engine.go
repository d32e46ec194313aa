// Package engine wires all Herald subsystems together: the extension
// registry, workflow registry, provider registry, digest resolver,
// scheduler, runner, worker pool, and sweeper.
//
// This package exists to break the import cycle: the root herald
// package defines Entity and the sentinel errors (imported by job,
// workflow, etc.) and so cannot import those packages back. The engine
// package sits above all subsystem packages and below the application
// layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/herald"
	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/digest"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/ext"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	mw "github.com/xraph/herald/middleware"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/provider"
	"github.com/xraph/herald/queue"
	"github.com/xraph/herald/runner"
	"github.com/xraph/herald/scheduler"
	"github.com/xraph/herald/sweep"
	"github.com/xraph/herald/trigger"
	"github.com/xraph/herald/worker"
	"github.com/xraph/herald/workflow"
)

// Engine is the assembled notification system.
type Engine struct {
	cfg    herald.Config
	logger *slog.Logger

	store      job.Store
	delayQueue queue.DelayQueue
	ownedQueue bool

	extensions *ext.Registry
	providers  *provider.Registry
	workflows  *workflow.Registry
	dlqService *dlq.Service
	resolver   *digest.Resolver
	scheduler  *scheduler.Scheduler
	runner     *runner.Runner
	trigger    *trigger.Service
	pool       *worker.Pool
	sweeper    *sweep.Sweeper

	// build-time collected options
	mws            []mw.Middleware
	bo             backoff.Strategy
	channelConfigs []queue.ChannelConfig
	recipientFn    runner.RecipientFunc
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration. Defaults to
// herald.DefaultConfig.
func WithConfig(cfg herald.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDelayQueue sets the delay queue backend. Defaults to an in-memory
// queue; pass queue.NewRedis for distributed deployments. The engine
// closes the queue on Stop only when it created the default one.
func WithDelayQueue(dq queue.DelayQueue) Option {
	return func(e *Engine) { e.delayQueue = dq }
}

// WithExtension registers an extension with the engine.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) { e.extensions.Register(x) }
}

// WithProvider registers a delivery provider.
func WithProvider(d provider.Deliverer) Option {
	return func(e *Engine) { e.providers.Register(d) }
}

// WithMiddleware appends middleware to the delivery chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithBackoff sets the retry strategy the digest resolver uses for
// window claim races. Defaults to backoff.DefaultStrategy.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithChannelConfig registers per-channel rate limiting and concurrency
// configurations. Channels not listed have no limits.
func WithChannelConfig(configs ...queue.ChannelConfig) Option {
	return func(e *Engine) { e.channelConfigs = append(e.channelConfigs, configs...) }
}

// WithRecipientFunc sets how delivery addresses are derived from jobs.
func WithRecipientFunc(f runner.RecipientFunc) Option {
	return func(e *Engine) { e.recipientFn = f }
}

// WithTracerProvider sets a custom OTel TracerProvider. When unset the
// global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for both the
// metrics middleware and the observability extension. When unset the
// global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// New assembles an engine on top of the given store. The store must
// also implement dlq.Store for dead letter support.
func New(store job.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, herald.ErrNoStore
	}

	e := &Engine{
		cfg:        herald.DefaultConfig(),
		logger:     slog.Default(),
		store:      store,
		providers:  provider.NewRegistry(),
		workflows:  workflow.NewRegistry(),
		extensions: ext.NewRegistry(slog.Default()),
	}
	for _, opt := range opts {
		opt(e)
	}

	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("herald/engine: store does not implement dlq.Store")
	}
	e.dlqService = dlq.NewService(ds, store)

	if e.delayQueue == nil {
		e.delayQueue = queue.NewMemory(e.cfg.Workers * 16)
		e.ownedQueue = true
	}
	if e.bo == nil {
		e.bo = backoff.DefaultStrategy()
	}

	// Tracing and metrics middleware honor a custom provider when set.
	tracingMw := mw.Tracing()
	if e.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer("github.com/xraph/herald"))
	}
	metricsMw := mw.Metrics()
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter("github.com/xraph/herald"))
	}

	var obsExt *observability.MetricsExtension
	var err error
	if e.meterProvider != nil {
		obsExt, err = observability.NewMetricsExtensionWithMeter(
			e.meterProvider.Meter("github.com/xraph/herald/observability"))
	} else {
		obsExt, err = observability.NewMetricsExtension()
	}
	if err != nil {
		return nil, fmt.Errorf("herald/engine: build metrics extension: %w", err)
	}
	e.extensions.Register(obsExt)

	allMws := make([]mw.Middleware, 0, 4+len(e.mws))
	allMws = append(allMws,
		mw.Recover(e.logger),
		tracingMw,
		metricsMw,
		mw.Logging(e.logger),
	)
	allMws = append(allMws, e.mws...)

	e.resolver = digest.NewResolver(store, e.delayQueue,
		digest.WithHooks(e.extensions),
		digest.WithLogger(e.logger),
		digest.WithBackoff(e.bo),
		digest.WithMaxAttempts(e.cfg.ResolverMaxAttempts),
	)
	e.scheduler = scheduler.New(store, e.delayQueue, e.resolver,
		scheduler.WithLogger(e.logger),
	)
	e.trigger = trigger.New(store, e.workflows, e.scheduler, e.resolver,
		trigger.WithLogger(e.logger),
	)

	runnerOpts := []runner.Option{
		runner.WithDLQ(e.dlqService),
		runner.WithHooks(e.extensions),
		runner.WithLogger(e.logger),
		runner.WithMiddleware(allMws...),
	}
	if e.recipientFn != nil {
		runnerOpts = append(runnerOpts, runner.WithRecipientFunc(e.recipientFn))
	}
	e.runner = runner.New(store, e.providers, e.scheduler, runnerOpts...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(e.cfg.Workers),
		worker.WithPoolLogger(e.logger),
	}
	if len(e.channelConfigs) > 0 {
		poolOpts = append(poolOpts, worker.WithDispatchManager(queue.NewManager(e.channelConfigs...)))
	}
	e.pool = worker.NewPool(store, e.delayQueue, e.runner, poolOpts...)

	if e.cfg.SweepInterval > 0 {
		e.sweeper = sweep.New(store, e.delayQueue,
			sweep.WithInterval(e.cfg.SweepInterval),
			sweep.WithThreshold(e.cfg.SweepThreshold),
			sweep.WithLogger(e.logger),
		)
	}

	return e, nil
}

// RegisterWorkflow validates and registers a workflow definition.
func (e *Engine) RegisterWorkflow(def *workflow.Definition) error {
	return e.workflows.Register(def)
}

// Trigger fires a workflow for the given recipients.
func (e *Engine) Trigger(ctx context.Context, req trigger.Request) (*trigger.Result, error) {
	return e.trigger.Trigger(ctx, req)
}

// Cancel cancels every not-yet-terminal job of a transaction.
func (e *Engine) Cancel(ctx context.Context, trxID id.TransactionID) (int, error) {
	return e.trigger.Cancel(ctx, trxID)
}

// Start launches the worker pool and the sweeper.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.pool.Start(ctx); err != nil {
		return err
	}
	if e.sweeper != nil {
		if err := e.sweeper.Start(ctx); err != nil {
			return err
		}
	}
	e.logger.Info("herald engine started",
		slog.String("worker_id", e.pool.WorkerID().String()),
		slog.Int("workers", e.cfg.Workers),
	)
	return nil
}

// Stop drains the worker pool within the configured shutdown timeout,
// stops the sweeper, notifies extensions, and closes the delay queue if
// the engine owns it. The store stays open; the caller created it.
func (e *Engine) Stop(ctx context.Context) error {
	if e.sweeper != nil {
		if err := e.sweeper.Stop(ctx); err != nil {
			return err
		}
	}

	stopCtx := ctx
	if e.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := e.pool.Stop(stopCtx); err != nil {
		return err
	}

	e.extensions.EmitShutdown(ctx)

	if e.ownedQueue {
		if err := e.delayQueue.Close(ctx); err != nil {
			return err
		}
	}

	e.logger.Info("herald engine stopped")
	return nil
}

// ── subsystem access ────────────────────────────────

// DLQ returns the dead letter service.
func (e *Engine) DLQ() *dlq.Service { return e.dlqService }

// Workflows returns the workflow registry.
func (e *Engine) Workflows() *workflow.Registry { return e.workflows }

// Providers returns the delivery provider registry.
func (e *Engine) Providers() *provider.Registry { return e.providers }

// Extensions returns the extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// Queue returns the delay queue backend.
func (e *Engine) Queue() queue.DelayQueue { return e.delayQueue }

// Runner returns the job runner, mainly for tests that fire jobs
// synchronously.
func (e *Engine) Runner() *runner.Runner { return e.runner }
