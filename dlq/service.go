package dlq

import (
	"context"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds a DLQ Entry from a failed job and persists it. The error
// string is captured from the delivery error.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) (*Entry, error) {
	now := time.Now().UTC()
	entry := &Entry{
		ID:             id.NewDLQID(),
		JobID:          j.ID,
		TransactionID:  j.TransactionID,
		Workflow:       j.Workflow,
		SubscriberID:   j.SubscriberID,
		StepIndex:      j.StepIndex,
		StepType:       j.StepType,
		Content:        j.Content,
		Payload:        j.Payload,
		EnvironmentID:  j.EnvironmentID,
		OrganizationID: j.OrganizationID,
		Error:          jobErr.Error(),
		FailedAt:       now,
		CreatedAt:      now,
	}
	if j.Digest != nil {
		entry.DigestEvents = j.Digest.Events
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Replay re-enqueues a DLQ entry as a new queued job and marks the
// entry as replayed. Status transitions are forward-only, so the
// original failed job stays failed and the replay gets a fresh job with
// a fresh ID.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	j := &job.Job{
		Entity:         herald.NewEntity(),
		ID:             id.NewJobID(),
		TransactionID:  entry.TransactionID,
		Workflow:       entry.Workflow,
		SubscriberID:   entry.SubscriberID,
		StepIndex:      entry.StepIndex,
		StepType:       entry.StepType,
		Content:        entry.Content,
		Payload:        entry.Payload,
		Status:         job.StatusQueued,
		EnvironmentID:  entry.EnvironmentID,
		OrganizationID: entry.OrganizationID,
	}
	if len(entry.DigestEvents) > 0 {
		j.Digest = &job.Digest{Events: entry.DigestEvents}
	}

	if err := s.jobStore.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already enqueued. Log but don't fail.
		return j, err
	}

	return j, nil
}

// DLQStore returns the underlying DLQ store for direct access
// to List, Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
