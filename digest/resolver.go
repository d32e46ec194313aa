package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/ext"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/queue"
)

// Resolver routes an incoming digest job into its window: merge into an
// open window, or claim ownership of a new one.
type Resolver struct {
	store       job.Store
	queue       queue.DelayQueue
	hooks       *ext.Registry
	logger      *slog.Logger
	strategy    backoff.Strategy
	maxAttempts int
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithHooks sets the extension registry notified of window events.
func WithHooks(r *ext.Registry) Option {
	return func(res *Resolver) { res.hooks = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(res *Resolver) { res.logger = l }
}

// WithBackoff sets the retry strategy used when a window claim races.
func WithBackoff(s backoff.Strategy) Option {
	return func(res *Resolver) { res.strategy = s }
}

// WithMaxAttempts caps merge/claim retries before giving up.
func WithMaxAttempts(n int) Option {
	return func(res *Resolver) { res.maxAttempts = n }
}

// NewResolver creates a digest window resolver.
func NewResolver(store job.Store, dq queue.DelayQueue, opts ...Option) *Resolver {
	r := &Resolver{
		store:       store,
		queue:       dq,
		logger:      slog.Default(),
		strategy:    backoff.DefaultStrategy(),
		maxAttempts: 5,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// KeyValue extracts the window partition value for a digest key from a
// trigger payload. A missing key, an absent payload field, or a
// non-scalar value all fall back to the shared per-recipient window.
func KeyValue(digestKey string, payload json.RawMessage) string {
	if digestKey == "" {
		return job.NoDigestKey
	}
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return job.NoDigestKey
	}
	switch v := obj[digestKey].(type) {
	case string:
		if v == "" {
			return job.NoDigestKey
		}
		return v
	case float64:
		raw, _ := json.Marshal(v)
		return string(raw)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return job.NoDigestKey
	}
}

// Resolve decides the fate of a pending digest job. Exactly one of two
// things happens:
//
//   - An open window exists for the job's tuple: the job's payload is
//     appended to the owner's event list, the job itself is marked
//     merged, and (owner, true) is returned. Merged jobs never execute.
//
//   - No open window exists: the job claims ownership, becomes delayed,
//     its window close is scheduled on the delay queue, and (job,
//     false) is returned.
//
// When a claim races with another trigger the loser retries with
// backoff; after maxAttempts the resolver reports
// ErrResolverUnavailable and the job stays pending for the sweeper.
func (r *Resolver) Resolve(ctx context.Context, j *job.Job) (*job.Job, bool, error) {
	if j.Digest == nil {
		return nil, false, fmt.Errorf("herald/digest: job %s has no digest config", j.ID)
	}

	keyValue := KeyValue(j.Digest.DigestKey, j.Payload)
	tuple := job.WindowTuple{
		WorkflowID:     j.WorkflowID,
		SubscriberID:   j.SubscriberID,
		DigestKeyValue: keyValue,
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		owner, err := r.store.MergeDigestEvent(ctx, tuple, j.Payload)
		switch {
		case err == nil:
			return r.finishMerge(ctx, j, owner)
		case errors.Is(err, herald.ErrNoOpenWindow):
			// Fall through to claim.
		default:
			return nil, false, fmt.Errorf("herald/digest: merge: %w", err)
		}

		owner, err = r.store.ClaimDigestOwner(ctx, j.ID, keyValue)
		switch {
		case err == nil:
			return r.finishClaim(ctx, owner)
		case errors.Is(err, herald.ErrWindowConflict):
			// Another trigger won the claim between our merge attempt
			// and now. Its window is open; retry the merge.
			r.logger.Debug("window claim lost, retrying",
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", attempt),
			)
			if wErr := r.wait(ctx, attempt); wErr != nil {
				return nil, false, wErr
			}
		default:
			return nil, false, fmt.Errorf("herald/digest: claim: %w", err)
		}
	}

	return nil, false, fmt.Errorf("herald/digest: job %s: %d attempts: %w",
		j.ID, r.maxAttempts, herald.ErrResolverUnavailable)
}

// finishMerge marks the incoming job merged and re-arms a backoff
// window.
func (r *Resolver) finishMerge(ctx context.Context, j, owner *job.Job) (*job.Job, bool, error) {
	if _, err := r.store.TransitionStatus(ctx, j.ID, job.StatusMerged, job.StatusPending); err != nil {
		return nil, false, fmt.Errorf("herald/digest: mark merged: %w", err)
	}
	j.Status = job.StatusMerged

	// The merged transaction's downstream steps will never be
	// scheduled; only the window owner's transaction continues. Fold
	// them into the same terminal state.
	downstream, err := r.store.ListJobs(ctx, job.Filter{
		TransactionID: j.TransactionID,
		SubscriberID:  j.SubscriberID,
		Statuses:      []job.Status{job.StatusPending},
	})
	if err != nil {
		return nil, false, fmt.Errorf("herald/digest: list downstream: %w", err)
	}
	for _, d := range downstream {
		if d.StepIndex <= j.StepIndex {
			continue
		}
		if _, err := r.store.TransitionStatus(ctx, d.ID, job.StatusMerged, job.StatusPending); err != nil && !errors.Is(err, herald.ErrInvalidTransition) {
			return nil, false, fmt.Errorf("herald/digest: mark downstream merged: %w", err)
		}
	}

	if owner.Digest != nil && owner.Digest.Type == job.DigestBackoff {
		if err := r.rearm(ctx, owner); err != nil {
			// The event is already merged; the ceiling entry still
			// closes the window even if the re-arm failed.
			r.logger.Warn("backoff re-arm failed",
				slog.String("owner_id", owner.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.hooks != nil {
		r.hooks.EmitEventMerged(ctx, owner, j)
	}
	events := 0
	if owner.Digest != nil {
		events = len(owner.Digest.Events)
	}
	r.logger.Debug("digest event merged",
		slog.String("owner_id", owner.ID.String()),
		slog.String("merged_id", j.ID.String()),
		slog.Int("events", events),
	)
	return owner, true, nil
}

// finishClaim schedules the window close for a freshly claimed owner.
// Regular windows get one entry at the full interval. Backoff windows
// get a short re-arm entry that each merged event pushes out, plus a
// ceiling entry at the full interval that no re-arm can cancel.
func (r *Resolver) finishClaim(ctx context.Context, owner *job.Job) (*job.Job, bool, error) {
	interval := owner.Digest.Interval()

	if owner.Digest.Type == job.DigestBackoff {
		entryID, err := r.queue.Enqueue(ctx, owner.ID, owner.Digest.BackoffInterval())
		if err != nil {
			return nil, false, fmt.Errorf("herald/digest: schedule backoff close: %w: %w", herald.ErrSchedulingUnavailable, err)
		}
		owner.ReArmEntry = entryID.String()
		if err := r.store.SetReArmEntry(ctx, owner.ID, owner.ReArmEntry); err != nil {
			return nil, false, fmt.Errorf("herald/digest: record re-arm entry: %w", err)
		}
	}

	if _, err := r.queue.Enqueue(ctx, owner.ID, interval); err != nil {
		return nil, false, fmt.Errorf("herald/digest: schedule window close: %w: %w", herald.ErrSchedulingUnavailable, err)
	}

	if r.hooks != nil {
		r.hooks.EmitWindowOpened(ctx, owner)
	}
	r.logger.Debug("digest window opened",
		slog.String("owner_id", owner.ID.String()),
		slog.String("key_value", owner.DigestKeyValue),
		slog.Duration("interval", interval),
	)
	return owner, false, nil
}

// rearm pushes a backoff window's close time out by one backoff
// interval. The previous re-arm entry is canceled and replaced; the
// ceiling entry is left alone. Extra fires from a canceled-too-late
// entry are harmless: execution claims the owner with a conditional
// transition, so only the first fire wins.
//
// The new entry is persisted with SetReArmEntry, never with a whole-job
// write: owner is a snapshot, and a merge serialized after it must not
// be rolled back from resolver memory.
func (r *Resolver) rearm(ctx context.Context, owner *job.Job) error {
	if owner.ReArmEntry != "" {
		entryID, err := id.ParseEntryID(owner.ReArmEntry)
		if err == nil {
			if cErr := r.queue.CancelEntry(ctx, entryID); cErr != nil {
				return fmt.Errorf("herald/digest: cancel re-arm entry: %w", cErr)
			}
		}
	}

	entryID, err := r.queue.Enqueue(ctx, owner.ID, owner.Digest.BackoffInterval())
	if err != nil {
		return fmt.Errorf("herald/digest: re-arm: %w: %w", herald.ErrSchedulingUnavailable, err)
	}
	owner.ReArmEntry = entryID.String()
	if err := r.store.SetReArmEntry(ctx, owner.ID, owner.ReArmEntry); err != nil {
		return fmt.Errorf("herald/digest: record re-arm entry: %w", err)
	}
	return nil
}

// CancelTransaction cancels the live jobs created by a trigger
// transaction: pending step jobs, queued jobs awaiting execution, and
// the delayed digest owner if this transaction opened the window.
// Events already merged into the window from other transactions are
// untouched. Returns the number of jobs canceled.
func (r *Resolver) CancelTransaction(ctx context.Context, trxID id.TransactionID) (int, error) {
	jobs, err := r.store.ListJobs(ctx, job.Filter{
		TransactionID: trxID,
		Statuses:      []job.Status{job.StatusPending, job.StatusQueued, job.StatusDelayed},
	})
	if err != nil {
		return 0, fmt.Errorf("herald/digest: cancel transaction: %w", err)
	}

	canceled := 0
	for _, j := range jobs {
		updated, err := r.store.TransitionStatus(ctx, j.ID, job.StatusCanceled, j.Status)
		if err != nil {
			// Someone else transitioned it first (merged, fired, or a
			// concurrent cancel). Skip.
			if errors.Is(err, herald.ErrInvalidTransition) {
				continue
			}
			return canceled, fmt.Errorf("herald/digest: cancel job %s: %w", j.ID, err)
		}
		if qErr := r.queue.CancelJob(ctx, j.ID); qErr != nil {
			r.logger.Warn("queue entry cancel failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", qErr.Error()),
			)
		}
		if r.hooks != nil {
			r.hooks.EmitJobCanceled(ctx, updated)
		}
		canceled++
	}

	r.logger.Info("transaction canceled",
		slog.String("transaction_id", trxID.String()),
		slog.Int("jobs", canceled),
	)
	return canceled, nil
}

func (r *Resolver) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(r.strategy.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
