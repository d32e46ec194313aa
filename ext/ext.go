// Package ext defines the extension system for Herald.
// Extensions are notified of lifecycle events (window opened, event
// merged, delivery sent, etc.) and can react to them — logging,
// metrics, tracing, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Digest window hooks
// ──────────────────────────────────────────────────

// WindowOpened is called when a trigger opens a new digest window and
// its job becomes the delayed owner.
type WindowOpened interface {
	OnWindowOpened(ctx context.Context, owner *job.Job) error
}

// EventMerged is called after a trigger's payload is folded into an
// open window and its own job is marked merged.
type EventMerged interface {
	OnEventMerged(ctx context.Context, owner *job.Job, merged *job.Job) error
}

// WindowClosed is called when a digest window fires and its owner job
// proceeds to execution with the collected events.
type WindowClosed interface {
	OnWindowClosed(ctx context.Context, owner *job.Job, eventCount int) error
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobCanceled is called after a transaction cancel marks a job
// canceled.
type JobCanceled interface {
	OnJobCanceled(ctx context.Context, j *job.Job) error
}

// JobDLQ is called when a failed job is moved to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, entryID id.DLQID, err error) error
}

// ──────────────────────────────────────────────────
// Delivery hooks
// ──────────────────────────────────────────────────

// DeliverySent is called after a provider accepts a message.
type DeliverySent interface {
	OnDeliverySent(ctx context.Context, j *job.Job, providerID string) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
