package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/herald/id"
)

// Filter narrows ListJobs and CountJobs results. Zero-value fields are
// ignored.
type Filter struct {
	TransactionID id.TransactionID
	WorkflowID    id.WorkflowID
	SubscriberID  id.SubscriberID
	Statuses      []Status
	StepType      StepType
	Limit         int
	Offset        int
}

// WindowTuple identifies a digest window: one canonical delayed job may
// exist per tuple at a time.
type WindowTuple struct {
	WorkflowID     id.WorkflowID
	SubscriberID   id.SubscriberID
	DigestKeyValue string
}

// Store persists jobs. Implementations must make MergeDigestEvent,
// ClaimDigestOwner and TransitionStatus atomic with respect to each
// other: the digest window contract (at most one delayed owner per
// tuple, lossless event appends) is enforced here rather than by
// callers.
type Store interface {
	// CreateJob inserts a new job. ErrJobAlreadyExists when the ID is
	// taken.
	CreateJob(ctx context.Context, j *Job) error

	// CreateJobs inserts a batch of jobs in one operation.
	CreateJobs(ctx context.Context, jobs []*Job) error

	// GetJob fetches a job by ID. ErrJobNotFound when absent.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob overwrites a job's mutable fields.
	UpdateJob(ctx context.Context, j *Job) error

	// ListJobs returns jobs matching the filter, ordered by creation
	// time ascending.
	ListJobs(ctx context.Context, f Filter) ([]*Job, error)

	// CountJobs returns the number of jobs matching the filter.
	CountJobs(ctx context.Context, f Filter) (int64, error)

	// TransitionStatus moves the job to the given status if and only if
	// its current status is one of from. It returns the updated job, or
	// ErrInvalidTransition when the current status does not match.
	TransitionStatus(ctx context.Context, jobID id.JobID, to Status, from ...Status) (*Job, error)

	// MergeDigestEvent appends event to the open delayed window for the
	// tuple and returns the owning job after the append. It returns
	// ErrNoOpenWindow when no delayed job exists for the tuple.
	MergeDigestEvent(ctx context.Context, t WindowTuple, event json.RawMessage) (*Job, error)

	// SetReArmEntry records the owner's active backoff re-arm queue
	// entry. The update touches only the re-arm bookkeeping, so it can
	// never clobber events merged concurrently into the owner's window.
	// ErrJobNotFound when the job is absent.
	SetReArmEntry(ctx context.Context, jobID id.JobID, entryID string) error

	// ClaimDigestOwner promotes the pending job to delayed, making it
	// the canonical window owner for its tuple. It returns
	// ErrWindowConflict when another delayed owner already holds the
	// tuple, and ErrInvalidTransition when the job is no longer pending.
	ClaimDigestOwner(ctx context.Context, jobID id.JobID, digestKeyValue string) (*Job, error)

	// FindDelayedByTransaction returns the delayed digest job created by
	// the given trigger transaction, or ErrJobNotFound.
	FindDelayedByTransaction(ctx context.Context, trxID id.TransactionID) (*Job, error)

	// StuckJobs returns queued jobs whose last update is older than the
	// cutoff: jobs that were claimed for dispatch but never fired.
	StuckJobs(ctx context.Context, olderThan time.Time, limit int) ([]*Job, error)

	// Close releases store resources.
	Close(ctx context.Context) error
}
