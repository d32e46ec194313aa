package dlq_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/store/memory"
)

func failedJob() *job.Job {
	return &job.Job{
		Entity:         herald.NewEntity(),
		ID:             id.NewJobID(),
		TransactionID:  id.NewTransactionID(),
		Workflow:       "order-updates",
		SubscriberID:   id.NewSubscriberID(),
		StepIndex:      2,
		StepType:       job.StepEmail,
		Content:        "hi {{name}}",
		Payload:        json.RawMessage(`{"name":"Ada"}`),
		Status:         job.StatusFailed,
		OrganizationID: "org_test",
	}
}

func TestPushCapturesJobFields(t *testing.T) {
	t.Parallel()

	store := memory.New()
	svc := dlq.NewService(store, store)
	ctx := context.Background()

	j := failedJob()
	j.Digest = &job.Digest{Events: []json.RawMessage{json.RawMessage(`{"n":1}`)}}

	entry, err := svc.Push(ctx, j, errors.New("provider rejected message"))
	if err != nil {
		t.Fatalf("Push error: %v", err)
	}

	if entry.JobID != j.ID {
		t.Errorf("JobID = %s, want %s", entry.JobID, j.ID)
	}
	if entry.Workflow != "order-updates" {
		t.Errorf("Workflow = %s", entry.Workflow)
	}
	if entry.Error != "provider rejected message" {
		t.Errorf("Error = %s", entry.Error)
	}
	if entry.OrganizationID != "org_test" {
		t.Errorf("OrganizationID = %s", entry.OrganizationID)
	}
	if len(entry.DigestEvents) != 1 {
		t.Errorf("DigestEvents = %d, want 1", len(entry.DigestEvents))
	}
	if entry.FailedAt.IsZero() {
		t.Error("FailedAt not set")
	}
}

func TestReplayCreatesFreshQueuedJob(t *testing.T) {
	t.Parallel()

	store := memory.New()
	svc := dlq.NewService(store, store)
	ctx := context.Background()

	original := failedJob()
	entry, err := svc.Push(ctx, original, errors.New("boom"))
	if err != nil {
		t.Fatalf("Push error: %v", err)
	}

	replayed, err := svc.Replay(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Replay error: %v", err)
	}

	if replayed.ID == original.ID {
		t.Error("replay must use a fresh job ID")
	}
	if replayed.Status != job.StatusQueued {
		t.Errorf("Status = %s, want queued", replayed.Status)
	}
	if replayed.TransactionID != original.TransactionID {
		t.Error("replay should keep the original transaction")
	}
	if replayed.StepIndex != original.StepIndex || replayed.StepType != original.StepType {
		t.Error("replay should keep the original step position")
	}

	// The replayed job is persisted.
	if _, err := store.GetJob(ctx, replayed.ID); err != nil {
		t.Fatalf("replayed job not stored: %v", err)
	}

	// The entry is marked replayed.
	got, err := store.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ error: %v", err)
	}
	if got.ReplayedAt == nil {
		t.Error("ReplayedAt not set")
	}
}

func TestReplayUnknownEntry(t *testing.T) {
	t.Parallel()

	store := memory.New()
	svc := dlq.NewService(store, store)

	_, err := svc.Replay(context.Background(), id.NewDLQID())
	if !errors.Is(err, herald.ErrDLQNotFound) {
		t.Fatalf("error = %v, want ErrDLQNotFound", err)
	}
}
