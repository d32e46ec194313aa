// Package worker runs the consumer pool that drains fired delay queue
// entries and hands them to the job runner.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/queue"
)

// Executor runs one fired job. Implemented by runner.Runner.
type Executor interface {
	Execute(ctx context.Context, jobID id.JobID) error
}

// DispatchManager controls per-channel and per-organization rate
// limiting and concurrency. The pool calls Acquire before executing a
// fired job and Release after execution completes.
type DispatchManager interface {
	// Acquire checks rate limits and concurrency for the
	// channel/organization combination. Returns true if the delivery is
	// allowed to proceed.
	Acquire(channel job.StepType, orgID string) bool
	// Release decrements the active count for the channel/organization
	// pair.
	Release(channel job.StepType, orgID string)
}

// Pool manages a set of concurrent worker goroutines that drain the
// delay queue's fired channel and execute jobs.
type Pool struct {
	store       job.Store
	queue       queue.DelayQueue
	executor    Executor
	concurrency int
	retryDelay  time.Duration
	workerID    id.WorkerID
	logger      *slog.Logger

	// Dispatch manager (optional).
	manager DispatchManager

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithRetryDelay sets the requeue delay applied when a job is rate
// limited.
func WithRetryDelay(d time.Duration) PoolOption {
	return func(p *Pool) { p.retryDelay = d }
}

// WithDispatchManager sets the manager for rate limiting and
// concurrency control.
func WithDispatchManager(m DispatchManager) PoolOption {
	return func(p *Pool) { p.manager = m }
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool.
func NewPool(store job.Store, dq queue.DelayQueue, executor Executor, opts ...PoolOption) *Pool {
	p := &Pool{
		store:       store,
		queue:       dq,
		executor:    executor,
		concurrency: 10,
		retryDelay:  time.Second,
		workerID:    id.NewWorkerID(),
		logger:      slog.Default(),
		stopCh:      make(chan struct{}),
		activeJobs:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.drainLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active jobs are cancelled when time
// runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// drainLoop is run by each worker goroutine.
func (p *Pool) drainLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case entry, ok := <-p.queue.Fired():
			if !ok {
				return
			}
			p.handle(entry)
		}
	}
}

func (p *Pool) handle(entry queue.Entry) {
	// The manager needs the channel and organization before execution;
	// a vanished job is simply skipped.
	if p.manager != nil {
		j, err := p.store.GetJob(context.Background(), entry.JobID)
		if err != nil {
			p.logger.Debug("fired entry for missing job",
				slog.String("job_id", entry.JobID.String()),
			)
			return
		}
		if !p.manager.Acquire(j.StepType, j.OrganizationID) {
			// Rate limited. Put the job back on the queue with a small
			// delay; the running-claim keeps a duplicate fire harmless.
			if _, qErr := p.queue.Enqueue(context.Background(), entry.JobID, p.retryDelay); qErr != nil {
				p.logger.Error("failed to requeue rate-limited job",
					slog.String("job_id", entry.JobID.String()),
					slog.String("error", qErr.Error()),
				)
			}
			return
		}
		defer p.manager.Release(j.StepType, j.OrganizationID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(entry.JobID.String(), cancel)
	defer func() {
		p.untrackJob(entry.JobID.String())
		cancel()
	}()

	if err := p.executor.Execute(ctx, entry.JobID); err != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", entry.JobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) trackJob(key string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	p.activeJobs[key] = cancel
}

func (p *Pool) untrackJob(key string) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	delete(p.activeJobs, key)
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for _, cancel := range p.activeJobs {
		cancel()
	}
}
