package queue

import (
	"context"
	"time"

	"github.com/xraph/herald/id"
)

// Entry is a fired delay queue entry: a signal that the job's wait has
// elapsed and it should be picked up for execution.
type Entry struct {
	ID     id.EntryID
	JobID  id.JobID
	FireAt time.Time
}

// DelayQueue schedules jobs to fire after a delay. Implementations are
// safe for concurrent use.
type DelayQueue interface {
	// Enqueue schedules the job to fire after delay and returns the
	// entry ID. A zero or negative delay fires as soon as a consumer
	// drains the queue. ErrQueueClosed after Close.
	Enqueue(ctx context.Context, jobID id.JobID, delay time.Duration) (id.EntryID, error)

	// CancelEntry removes a single pending entry. Canceling an entry
	// that already fired or does not exist is a no-op.
	CancelEntry(ctx context.Context, entryID id.EntryID) error

	// CancelJob removes every pending entry for the job.
	CancelJob(ctx context.Context, jobID id.JobID) error

	// Fired returns the channel on which due entries are delivered.
	// The channel is closed by Close.
	Fired() <-chan Entry

	// Close stops the queue and releases resources. Pending entries
	// are dropped (memory) or left for another consumer (redis).
	Close(ctx context.Context) error
}
