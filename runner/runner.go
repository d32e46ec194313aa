// Package runner executes fired jobs: it claims the job with a
// conditional status transition, performs channel delivery through the
// provider registry, and advances the transaction to its next step.
//
// Claiming is what makes execution exactly-once under at-least-once
// firing: only the first fire moves the job to running, and every later
// fire of the same job (requeue after a sweep, a stale backoff re-arm
// entry, a duplicate queue delivery) finds the job already past queued
// or delayed and becomes a no-op.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/ext"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/middleware"
	"github.com/xraph/herald/provider"
	"github.com/xraph/herald/scheduler"
)

// NextScheduler advances a transaction after a job completes. Implemented
// by scheduler.Scheduler; an interface here keeps the packages
// decoupled.
type NextScheduler interface {
	ScheduleNext(ctx context.Context, completed *job.Job) (*job.Job, error)
}

// RecipientFunc resolves the channel address for a job. The default
// uses the subscriber ID, which suits providers that manage their own
// address books.
type RecipientFunc func(ctx context.Context, j *job.Job) string

// Runner executes jobs.
type Runner struct {
	store     job.Store
	providers *provider.Registry
	next      NextScheduler
	dlq       *dlq.Service
	hooks     *ext.Registry
	logger    *slog.Logger
	chain     middleware.Middleware
	recipient RecipientFunc
}

// Option configures the Runner.
type Option func(*Runner)

// WithDLQ routes terminally failed jobs to the dead letter queue.
func WithDLQ(svc *dlq.Service) Option {
	return func(r *Runner) { r.dlq = svc }
}

// WithHooks sets the extension registry notified of job events.
func WithHooks(reg *ext.Registry) Option {
	return func(r *Runner) { r.hooks = reg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMiddleware wraps delivery execution in the given middleware,
// outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(r *Runner) { r.chain = middleware.Chain(mws...) }
}

// WithRecipientFunc overrides how channel addresses are resolved.
func WithRecipientFunc(f RecipientFunc) Option {
	return func(r *Runner) { r.recipient = f }
}

// New creates a Runner.
func New(store job.Store, providers *provider.Registry, next NextScheduler, opts ...Option) *Runner {
	r := &Runner{
		store:     store,
		providers: providers,
		next:      next,
		logger:    slog.Default(),
		chain:     middleware.Chain(),
		recipient: func(_ context.Context, j *job.Job) string { return j.SubscriberID.String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs the job identified by a fired queue entry. Fires for
// jobs that are already terminal or already claimed are absorbed
// silently.
func (r *Runner) Execute(ctx context.Context, jobID id.JobID) error {
	j, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, herald.ErrJobNotFound) {
			r.logger.Warn("fired entry for unknown job", slog.String("job_id", jobID.String()))
			return nil
		}
		return fmt.Errorf("herald/runner: load job: %w", err)
	}

	if j.Status.Terminal() {
		r.logger.Debug("ignoring fire for terminal job",
			slog.String("job_id", jobID.String()),
			slog.String("status", string(j.Status)),
		)
		return nil
	}

	claimed, err := r.store.TransitionStatus(ctx, jobID, job.StatusRunning, job.StatusQueued, job.StatusDelayed)
	if err != nil {
		if errors.Is(err, herald.ErrInvalidTransition) {
			// Lost the claim: duplicate fire or concurrent cancel.
			return nil
		}
		return fmt.Errorf("herald/runner: claim job: %w", err)
	}

	start := time.Now()
	if claimed.StepType == job.StepDigest {
		err = r.closeWindow(ctx, claimed)
	} else {
		err = r.deliver(ctx, claimed)
	}
	if err != nil {
		return r.fail(ctx, claimed, err)
	}

	return r.complete(ctx, claimed, time.Since(start))
}

// closeWindow finishes a digest job whose window elapsed. The collected
// events travel to the next step through the scheduler; the digest job
// itself has nothing to deliver.
func (r *Runner) closeWindow(ctx context.Context, owner *job.Job) error {
	events := scheduler.CollectedEvents(owner)
	if r.hooks != nil {
		r.hooks.EmitWindowClosed(ctx, owner, len(events))
	}
	r.logger.Info("digest window closed",
		slog.String("job_id", owner.ID.String()),
		slog.String("key_value", owner.DigestKeyValue),
		slog.Int("events", len(events)),
	)
	return nil
}

// deliver renders the step content and pushes it through the channel's
// provider, wrapped in the configured middleware.
func (r *Runner) deliver(ctx context.Context, j *job.Job) error {
	d, err := r.providers.ForChannel(j.StepType)
	if err != nil {
		return err
	}

	var events []json.RawMessage
	if j.Digest != nil {
		events = j.Digest.Events
	}
	msg := provider.Message{
		Recipient: r.recipient(ctx, j),
		Title:     j.Workflow,
		Body:      provider.Render(j.Content, j.Payload, events),
	}

	handler := func(ctx context.Context) error {
		receipt, dErr := d.Deliver(ctx, msg)
		if dErr != nil {
			return &herald.DeliveryError{
				Provider: d.ID(),
				Channel:  string(j.StepType),
				Err:      dErr,
			}
		}
		if receipt != nil {
			j.ProviderMessageID = receipt.MessageID
		}
		return nil
	}

	if err := r.chain(ctx, j, handler); err != nil {
		return err
	}

	if r.hooks != nil {
		r.hooks.EmitDeliverySent(ctx, j, d.ID())
	}
	return nil
}

// complete marks the job completed and schedules the next step.
func (r *Runner) complete(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	j.Status = job.StatusCompleted
	if err := r.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("herald/runner: mark completed: %w", err)
	}

	if r.hooks != nil {
		r.hooks.EmitJobCompleted(ctx, j, elapsed)
	}

	if r.next != nil {
		if _, err := r.next.ScheduleNext(ctx, j); err != nil {
			return fmt.Errorf("herald/runner: schedule next step: %w", err)
		}
	}
	return nil
}

// fail records the delivery error, marks the job failed, and pushes it
// to the dead letter queue.
func (r *Runner) fail(ctx context.Context, j *job.Job, cause error) error {
	j.Status = job.StatusFailed
	j.LastError = cause.Error()
	if err := r.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("herald/runner: mark failed: %w", err)
	}

	if r.hooks != nil {
		r.hooks.EmitJobFailed(ctx, j, cause)
	}

	if r.dlq != nil {
		entry, dErr := r.dlq.Push(ctx, j, cause)
		if dErr != nil {
			r.logger.Error("dead letter push failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dErr.Error()),
			)
		} else if r.hooks != nil {
			r.hooks.EmitJobDLQ(ctx, j, entry.ID, cause)
		}
	}

	return fmt.Errorf("herald/runner: job %s: %w", j.ID, cause)
}
