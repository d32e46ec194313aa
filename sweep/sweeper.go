// Package sweep recovers jobs that were claimed for dispatch but never
// made it onto the delay queue, typically after a crash between the
// queued transition and the enqueue.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/herald/job"
	"github.com/xraph/herald/queue"
)

// Sweeper periodically scans for stuck queued jobs and re-enqueues
// them. Re-enqueueing an already-scheduled job is harmless: whichever
// fire loses the running claim is dropped.
type Sweeper struct {
	store  job.Store
	queue  queue.DelayQueue
	logger *slog.Logger

	interval  time.Duration
	threshold time.Duration
	batch     int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval sets how often the sweeper scans. Default 30s.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.interval = d }
}

// WithThreshold sets how long a queued job must sit untouched before it
// counts as stuck. Default 1m.
func WithThreshold(d time.Duration) Option {
	return func(s *Sweeper) { s.threshold = d }
}

// WithBatchSize caps how many jobs one sweep recovers. Default 100.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) { s.batch = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// New creates a Sweeper.
func New(store job.Store, dq queue.DelayQueue, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:     store,
		queue:     dq,
		logger:    slog.Default(),
		interval:  30 * time.Second,
		threshold: time.Minute,
		batch:     100,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop.
func (s *Sweeper) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("sweeper started",
		slog.Duration("interval", s.interval),
		slog.Duration("threshold", s.threshold),
	)
	return nil
}

// Stop signals the sweep loop to stop and waits for it.
func (s *Sweeper) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep runs one recovery pass and returns how many jobs it
// re-enqueued. Exposed so operators can force a pass.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.threshold)
	stuck, err := s.store.StuckJobs(ctx, cutoff, s.batch)
	if err != nil {
		s.logger.Error("stuck job scan failed", slog.String("error", err.Error()))
		return 0
	}

	recovered := 0
	for _, j := range stuck {
		if _, err := s.queue.Enqueue(ctx, j.ID, 0); err != nil {
			s.logger.Error("failed to re-enqueue stuck job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
		s.logger.Warn("recovered stuck job",
			slog.String("job_id", j.ID.String()),
			slog.String("workflow", j.Workflow),
			slog.Time("updated_at", j.UpdatedAt),
		)
	}
	return recovered
}
