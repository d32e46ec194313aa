// Package scheduler advances a trigger transaction through its steps:
// after a job completes, it locates the next step's job, routes digest
// steps through the window resolver, and queues channel steps for
// execution.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/xraph/herald"
	"github.com/xraph/herald/digest"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/queue"
)

// Scheduler routes jobs to the delay queue or the digest resolver.
type Scheduler struct {
	store    job.Store
	queue    queue.DelayQueue
	resolver *digest.Resolver
	logger   *slog.Logger
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a scheduler.
func New(store job.Store, dq queue.DelayQueue, resolver *digest.Resolver, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		queue:    dq,
		resolver: resolver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch routes a pending job toward execution. Digest jobs go
// through the window resolver and either open a window or merge into
// one. Channel jobs are claimed (pending to queued) and put on the
// delay queue with no delay.
//
// The queued transition happens before the enqueue: if the process dies
// between the two, the job is visible to the sweeper as stuck rather
// than silently lost, and a duplicate fire after recovery is absorbed
// by the running-claim on execution.
func (s *Scheduler) Dispatch(ctx context.Context, j *job.Job) (*job.Job, error) {
	if j.StepType == job.StepDigest {
		owner, merged, err := s.resolver.Resolve(ctx, j)
		if err != nil {
			return nil, err
		}
		if merged {
			s.logger.Debug("job merged into open window",
				slog.String("job_id", j.ID.String()),
				slog.String("owner_id", owner.ID.String()),
			)
		}
		return owner, nil
	}

	claimed, err := s.store.TransitionStatus(ctx, j.ID, job.StatusQueued, job.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("herald/scheduler: claim %s for dispatch: %w", j.ID, err)
	}
	if _, err := s.queue.Enqueue(ctx, claimed.ID, 0); err != nil {
		// The job stays queued with no entry; the sweeper picks it up.
		return nil, fmt.Errorf("herald/scheduler: enqueue %s: %w: %w", claimed.ID, herald.ErrSchedulingUnavailable, err)
	}
	return claimed, nil
}

// ScheduleNext locates the job for the step after completed and
// dispatches it. When completed is a digest window owner, the collected
// events are carried onto the next job before it is queued. Returns
// (nil, nil) when the transaction has no further steps.
func (s *Scheduler) ScheduleNext(ctx context.Context, completed *job.Job) (*job.Job, error) {
	next, err := s.findNext(ctx, completed)
	if err != nil {
		return nil, err
	}
	if next == nil {
		s.logger.Debug("transaction finished",
			slog.String("transaction_id", completed.TransactionID.String()),
			slog.String("subscriber_id", completed.SubscriberID.String()),
		)
		return nil, nil
	}

	if completed.StepType == job.StepDigest {
		if err := s.carryEvents(ctx, completed, next); err != nil {
			return nil, err
		}
	}

	return s.Dispatch(ctx, next)
}

// findNext returns the pending job at completed.StepIndex+1 within the
// same transaction and recipient.
func (s *Scheduler) findNext(ctx context.Context, completed *job.Job) (*job.Job, error) {
	jobs, err := s.store.ListJobs(ctx, job.Filter{
		TransactionID: completed.TransactionID,
		SubscriberID:  completed.SubscriberID,
		Statuses:      []job.Status{job.StatusPending},
	})
	if err != nil {
		return nil, fmt.Errorf("herald/scheduler: find next step: %w", err)
	}
	for _, j := range jobs {
		if j.StepIndex == completed.StepIndex+1 {
			return j, nil
		}
	}
	return nil, nil
}

// carryEvents moves a closed window's event list onto the downstream
// job. The owner's own trigger payload leads the list; in update mode
// it is dropped, since that payload was already delivered standalone
// when it opened the window.
func (s *Scheduler) carryEvents(ctx context.Context, owner, next *job.Job) error {
	events := CollectedEvents(owner)
	next.Digest = owner.Digest.Clone()
	next.Digest.Events = events
	if err := s.store.UpdateJob(ctx, next); err != nil {
		return fmt.Errorf("herald/scheduler: carry digest events: %w", err)
	}
	return nil
}

// CollectedEvents returns the full event list of a digest window owner:
// the owner's own trigger payload followed by every merged payload, in
// merge order. In update mode the leading payload is omitted.
func CollectedEvents(owner *job.Job) []json.RawMessage {
	if owner.Digest == nil {
		return nil
	}
	events := make([]json.RawMessage, 0, len(owner.Digest.Events)+1)
	if !owner.Digest.UpdateMode {
		events = append(events, owner.Payload)
	}
	events = append(events, owner.Digest.Events...)
	return events
}
