// Package trigger materializes jobs for a workflow trigger call and
// starts each recipient's first step.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/herald"
	"github.com/xraph/herald/digest"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/scheduler"
	"github.com/xraph/herald/workflow"
)

// Request describes one trigger call.
type Request struct {
	// Workflow is the definition identifier to trigger.
	Workflow string

	// Recipients receive one independent copy of the workflow each.
	Recipients []id.SubscriberID

	// Payload is the event payload shared by every materialized job of
	// this call.
	Payload json.RawMessage

	EnvironmentID  string
	OrganizationID string

	// TransactionID correlates the materialized jobs. Generated when
	// nil; pass one to make the trigger idempotent against your own
	// retries.
	TransactionID id.TransactionID
}

// Result reports what a trigger call materialized.
type Result struct {
	TransactionID id.TransactionID

	// Jobs holds every job created by the call, all recipients and all
	// steps, in (recipient, step) order.
	Jobs []*job.Job
}

// Service materializes and starts trigger transactions.
type Service struct {
	store     job.Store
	registry  *workflow.Registry
	scheduler *scheduler.Scheduler
	resolver  *digest.Resolver
	logger    *slog.Logger

	// fanout caps the number of concurrent first-step dispatches.
	fanout int
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithFanout caps concurrent per-recipient dispatches.
func WithFanout(n int) Option {
	return func(s *Service) { s.fanout = n }
}

// New creates a trigger service.
func New(store job.Store, registry *workflow.Registry, sched *scheduler.Scheduler, resolver *digest.Resolver, opts ...Option) *Service {
	s := &Service{
		store:     store,
		registry:  registry,
		scheduler: sched,
		resolver:  resolver,
		logger:    slog.Default(),
		fanout:    8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Trigger looks the workflow up, materializes every step's job for every
// recipient in one atomic write, then dispatches each recipient's first
// step. All jobs exist as PENDING before any of them moves, so a crash
// mid-dispatch leaves a resumable transaction instead of a partial one.
func (s *Service) Trigger(ctx context.Context, req Request) (*Result, error) {
	if req.Workflow == "" {
		return nil, fmt.Errorf("herald/trigger: empty workflow identifier")
	}
	if len(req.Recipients) == 0 {
		return nil, fmt.Errorf("herald/trigger: %s: no recipients", req.Workflow)
	}

	def, err := s.registry.Get(req.Workflow)
	if err != nil {
		return nil, fmt.Errorf("herald/trigger: %s: %w", req.Workflow, err)
	}
	if !def.Active {
		return nil, fmt.Errorf("herald/trigger: %s: %w", req.Workflow, herald.ErrWorkflowInactive)
	}

	trxID := req.TransactionID
	if trxID.IsNil() {
		trxID = id.NewTransactionID()
	}

	jobs := s.materialize(def, trxID, req)
	if err := s.store.CreateJobs(ctx, jobs); err != nil {
		return nil, fmt.Errorf("herald/trigger: %s: create jobs: %w", req.Workflow, err)
	}

	s.logger.Info("workflow triggered",
		slog.String("workflow", def.Identifier),
		slog.String("transaction_id", trxID.String()),
		slog.Int("recipients", len(req.Recipients)),
		slog.Int("jobs", len(jobs)),
	)

	// First-step jobs sit at the head of each recipient's slice. Fan
	// out so a slow digest claim on one recipient does not serialize
	// the rest of the call.
	steps := len(def.Steps)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for i := range req.Recipients {
		first := jobs[i*steps]
		g.Go(func() error {
			if _, err := s.scheduler.Dispatch(gctx, first); err != nil {
				return fmt.Errorf("herald/trigger: dispatch %s: %w", first.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{TransactionID: trxID, Jobs: jobs}, nil
}

// Cancel cancels every not-yet-terminal job of a transaction and drops
// their queue entries. Returns how many jobs were canceled.
func (s *Service) Cancel(ctx context.Context, trxID id.TransactionID) (int, error) {
	return s.resolver.CancelTransaction(ctx, trxID)
}

// materialize builds the full job set for one trigger call: one job per
// (recipient, step), all PENDING.
func (s *Service) materialize(def *workflow.Definition, trxID id.TransactionID, req Request) []*job.Job {
	jobs := make([]*job.Job, 0, len(req.Recipients)*len(def.Steps))
	for _, recipient := range req.Recipients {
		for idx, step := range def.Steps {
			j := &job.Job{
				Entity:         herald.NewEntity(),
				ID:             id.NewJobID(),
				TransactionID:  trxID,
				Workflow:       def.Identifier,
				WorkflowID:     def.ID,
				EnvironmentID:  req.EnvironmentID,
				OrganizationID: req.OrganizationID,
				SubscriberID:   recipient,
				StepIndex:      idx,
				StepType:       step.Type,
				Content:        step.Content,
				Status:         job.StatusPending,
				Payload:        req.Payload,
			}
			if step.Type == job.StepDigest && step.Digest != nil {
				j.Digest = step.Digest.ToDigest()
				j.DigestKeyValue = digest.KeyValue(step.Digest.DigestKey, req.Payload)
			}
			jobs = append(jobs, j)
		}
	}
	return jobs
}
