package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/store/memory"
)

func newJob(status job.Status, stepType job.StepType) *job.Job {
	return &job.Job{
		Entity:        herald.NewEntity(),
		ID:            id.NewJobID(),
		TransactionID: id.NewTransactionID(),
		Workflow:      "test-workflow",
		WorkflowID:    id.NewWorkflowID(),
		SubscriberID:  id.NewSubscriberID(),
		StepType:      stepType,
		Status:        status,
	}
}

func TestCreateAndGetJob(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	j := newJob(job.StatusPending, job.StepSMS)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if got.ID != j.ID || got.Status != job.StatusPending {
		t.Errorf("got %+v", got)
	}

	// The stored job is isolated from later caller mutations.
	j.Status = job.StatusFailed
	got2, _ := s.GetJob(ctx, j.ID)
	if got2.Status != job.StatusPending {
		t.Error("store returned a shared reference")
	}
}

func TestCreateJobDuplicate(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	j := newJob(job.StatusPending, job.StepSMS)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, herald.ErrJobAlreadyExists) {
		t.Fatalf("error = %v, want ErrJobAlreadyExists", err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	s := memory.New()
	_, err := s.GetJob(context.Background(), id.NewJobID())
	if !errors.Is(err, herald.ErrJobNotFound) {
		t.Fatalf("error = %v, want ErrJobNotFound", err)
	}
}

func TestCreateJobsBatch(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	jobs := []*job.Job{
		newJob(job.StatusPending, job.StepSMS),
		newJob(job.StatusPending, job.StepDigest),
		newJob(job.StatusPending, job.StepEmail),
	}
	if err := s.CreateJobs(ctx, jobs); err != nil {
		t.Fatalf("CreateJobs error: %v", err)
	}
	for _, j := range jobs {
		if _, err := s.GetJob(ctx, j.ID); err != nil {
			t.Errorf("GetJob(%s) error: %v", j.ID, err)
		}
	}
}

func TestListJobsFilter(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	trx := id.NewTransactionID()
	a := newJob(job.StatusPending, job.StepSMS)
	a.TransactionID = trx
	b := newJob(job.StatusQueued, job.StepEmail)
	b.TransactionID = trx
	c := newJob(job.StatusPending, job.StepSMS)

	for _, j := range []*job.Job{a, b, c} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob error: %v", err)
		}
	}

	got, err := s.ListJobs(ctx, job.Filter{TransactionID: trx})
	if err != nil {
		t.Fatalf("ListJobs error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	got, err = s.ListJobs(ctx, job.Filter{Statuses: []job.Status{job.StatusQueued}})
	if err != nil {
		t.Fatalf("ListJobs error: %v", err)
	}
	if len(got) != 1 || got[0].ID != b.ID {
		t.Fatalf("status filter returned %d jobs", len(got))
	}

	n, err := s.CountJobs(ctx, job.Filter{StepType: job.StepSMS})
	if err != nil {
		t.Fatalf("CountJobs error: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestTransitionStatus(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	j := newJob(job.StatusQueued, job.StepSMS)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}

	got, err := s.TransitionStatus(ctx, j.ID, job.StatusRunning, job.StatusQueued, job.StatusDelayed)
	if err != nil {
		t.Fatalf("TransitionStatus error: %v", err)
	}
	if got.Status != job.StatusRunning {
		t.Fatalf("status = %s, want running", got.Status)
	}

	// Second actor loses the claim.
	_, err = s.TransitionStatus(ctx, j.ID, job.StatusRunning, job.StatusQueued, job.StatusDelayed)
	if !errors.Is(err, herald.ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionStatusRejectsIllegalMove(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	j := newJob(job.StatusPending, job.StepSMS)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}

	// pending is in the from list but pending -> completed is not a
	// legal edge.
	_, err := s.TransitionStatus(ctx, j.ID, job.StatusCompleted, job.StatusPending)
	if !errors.Is(err, herald.ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestClaimDigestOwner(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	j := newJob(job.StatusPending, job.StepDigest)
	j.Digest = &job.Digest{Unit: job.UnitMinutes, Amount: 5, Type: job.DigestRegular}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}

	owner, err := s.ClaimDigestOwner(ctx, j.ID, job.NoDigestKey)
	if err != nil {
		t.Fatalf("ClaimDigestOwner error: %v", err)
	}
	if owner.Status != job.StatusDelayed {
		t.Fatalf("status = %s, want delayed", owner.Status)
	}
	if owner.DigestKeyValue != job.NoDigestKey {
		t.Fatalf("key value = %q", owner.DigestKeyValue)
	}

	// A second pending job for the same tuple cannot claim.
	rival := newJob(job.StatusPending, job.StepDigest)
	rival.WorkflowID = j.WorkflowID
	rival.SubscriberID = j.SubscriberID
	if err := s.CreateJob(ctx, rival); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	_, err = s.ClaimDigestOwner(ctx, rival.ID, job.NoDigestKey)
	if !errors.Is(err, herald.ErrWindowConflict) {
		t.Fatalf("error = %v, want ErrWindowConflict", err)
	}

	// A different key value is a different window.
	other := newJob(job.StatusPending, job.StepDigest)
	other.WorkflowID = j.WorkflowID
	other.SubscriberID = j.SubscriberID
	if err := s.CreateJob(ctx, other); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	if _, err := s.ClaimDigestOwner(ctx, other.ID, "post-42"); err != nil {
		t.Fatalf("ClaimDigestOwner with distinct key: %v", err)
	}
}

func TestClaimDigestOwnerRequiresPending(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	j := newJob(job.StatusMerged, job.StepDigest)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	_, err := s.ClaimDigestOwner(ctx, j.ID, job.NoDigestKey)
	if !errors.Is(err, herald.ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestMergeDigestEvent(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	j := newJob(job.StatusPending, job.StepDigest)
	j.Digest = &job.Digest{Unit: job.UnitMinutes, Amount: 5, Type: job.DigestRegular}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	if _, err := s.ClaimDigestOwner(ctx, j.ID, job.NoDigestKey); err != nil {
		t.Fatalf("ClaimDigestOwner error: %v", err)
	}

	tuple := job.WindowTuple{
		WorkflowID:     j.WorkflowID,
		SubscriberID:   j.SubscriberID,
		DigestKeyValue: job.NoDigestKey,
	}
	owner, err := s.MergeDigestEvent(ctx, tuple, json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("MergeDigestEvent error: %v", err)
	}
	owner, err = s.MergeDigestEvent(ctx, tuple, json.RawMessage(`{"n":2}`))
	if err != nil {
		t.Fatalf("MergeDigestEvent error: %v", err)
	}

	if len(owner.Digest.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(owner.Digest.Events))
	}
	if string(owner.Digest.Events[0]) != `{"n":1}` || string(owner.Digest.Events[1]) != `{"n":2}` {
		t.Errorf("events out of order: %s, %s", owner.Digest.Events[0], owner.Digest.Events[1])
	}
}

func TestMergeDigestEventNoWindow(t *testing.T) {
	t.Parallel()

	s := memory.New()
	tuple := job.WindowTuple{
		WorkflowID:     id.NewWorkflowID(),
		SubscriberID:   id.NewSubscriberID(),
		DigestKeyValue: job.NoDigestKey,
	}
	_, err := s.MergeDigestEvent(context.Background(), tuple, json.RawMessage(`{}`))
	if !errors.Is(err, herald.ErrNoOpenWindow) {
		t.Fatalf("error = %v, want ErrNoOpenWindow", err)
	}
}

// TestConcurrentClaim verifies that with many racing pending jobs for
// the same tuple, exactly one becomes the delayed owner.
func TestConcurrentClaim(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	wfID := id.NewWorkflowID()
	subID := id.NewSubscriberID()

	const n = 10
	jobs := make([]*job.Job, n)
	for i := range n {
		j := newJob(job.StatusPending, job.StepDigest)
		j.WorkflowID = wfID
		j.SubscriberID = subID
		j.Digest = &job.Digest{Unit: job.UnitMinutes, Amount: 5, Type: job.DigestRegular}
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob error: %v", err)
		}
		jobs[i] = j
	}

	var wg sync.WaitGroup
	wins := make(chan id.JobID, n)
	for _, j := range jobs {
		wg.Add(1)
		go func(jobID id.JobID) {
			defer wg.Done()
			if _, err := s.ClaimDigestOwner(ctx, jobID, job.NoDigestKey); err == nil {
				wins <- jobID
			}
		}(j.ID)
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestFindDelayedByTransaction(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	j := newJob(job.StatusPending, job.StepDigest)
	j.Digest = &job.Digest{Unit: job.UnitMinutes, Amount: 5, Type: job.DigestRegular}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	if _, err := s.ClaimDigestOwner(ctx, j.ID, job.NoDigestKey); err != nil {
		t.Fatalf("ClaimDigestOwner error: %v", err)
	}

	got, err := s.FindDelayedByTransaction(ctx, j.TransactionID)
	if err != nil {
		t.Fatalf("FindDelayedByTransaction error: %v", err)
	}
	if got.ID != j.ID {
		t.Fatalf("found %s, want %s", got.ID, j.ID)
	}

	_, err = s.FindDelayedByTransaction(ctx, id.NewTransactionID())
	if !errors.Is(err, herald.ErrJobNotFound) {
		t.Fatalf("error = %v, want ErrJobNotFound", err)
	}
}

func TestStuckJobs(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	stale := newJob(job.StatusQueued, job.StepSMS)
	stale.UpdatedAt = time.Now().UTC().Add(-10 * time.Minute)
	fresh := newJob(job.StatusQueued, job.StepSMS)
	pending := newJob(job.StatusPending, job.StepSMS)
	pending.UpdatedAt = stale.UpdatedAt

	for _, j := range []*job.Job{stale, fresh, pending} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob error: %v", err)
		}
	}

	got, err := s.StuckJobs(ctx, time.Now().UTC().Add(-5*time.Minute), 100)
	if err != nil {
		t.Fatalf("StuckJobs error: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("StuckJobs returned %d jobs", len(got))
	}
}

func TestSetReArmEntry(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	j := newJob(job.StatusDelayed, job.StepDigest)
	j.Digest = &job.Digest{
		Unit: job.UnitMinutes, Amount: 5, Type: job.DigestBackoff,
		Events: []json.RawMessage{json.RawMessage(`{"n":1}`)},
	}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}

	if err := s.SetReArmEntry(ctx, j.ID, "entry-1"); err != nil {
		t.Fatalf("SetReArmEntry error: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if got.ReArmEntry != "entry-1" {
		t.Fatalf("re-arm entry = %q, want entry-1", got.ReArmEntry)
	}
	// Only the bookkeeping field moved.
	if len(got.Digest.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(got.Digest.Events))
	}

	if err := s.SetReArmEntry(ctx, id.NewJobID(), "entry-2"); !errors.Is(err, herald.ErrJobNotFound) {
		t.Fatalf("error = %v, want ErrJobNotFound", err)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	j := newJob(job.StatusPending, job.StepSMS)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	if err := s.Ping(ctx); !errors.Is(err, herald.ErrStoreClosed) {
		t.Fatalf("Ping error = %v, want ErrStoreClosed", err)
	}
	if err := s.CreateJob(ctx, newJob(job.StatusPending, job.StepSMS)); !errors.Is(err, herald.ErrStoreClosed) {
		t.Fatalf("CreateJob error = %v, want ErrStoreClosed", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, herald.ErrStoreClosed) {
		t.Fatalf("GetJob error = %v, want ErrStoreClosed", err)
	}
	if _, err := s.TransitionStatus(ctx, j.ID, job.StatusQueued, job.StatusPending); !errors.Is(err, herald.ErrStoreClosed) {
		t.Fatalf("TransitionStatus error = %v, want ErrStoreClosed", err)
	}
	if _, err := s.CountDLQ(ctx); !errors.Is(err, herald.ErrStoreClosed) {
		t.Fatalf("CountDLQ error = %v, want ErrStoreClosed", err)
	}

	// Closing twice stays a no-op.
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestDLQRoundTrip(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	for i := range 3 {
		entry := &dlq.Entry{
			ID:       id.NewDLQID(),
			JobID:    id.NewJobID(),
			Workflow: "wf-a",
			Error:    fmt.Sprintf("failure %d", i),
			FailedAt: time.Now().UTC().Add(-time.Duration(i) * time.Hour),
		}
		if err := s.PushDLQ(ctx, entry); err != nil {
			t.Fatalf("PushDLQ error: %v", err)
		}
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{Workflow: "wf-a"})
	if err != nil {
		t.Fatalf("ListDLQ error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	// Newest first.
	if entries[0].FailedAt.Before(entries[1].FailedAt) {
		t.Error("entries not sorted newest first")
	}

	if err := s.ReplayDLQ(ctx, entries[0].ID); err != nil {
		t.Fatalf("ReplayDLQ error: %v", err)
	}
	got, err := s.GetDLQ(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("GetDLQ error: %v", err)
	}
	if got.ReplayedAt == nil {
		t.Error("ReplayedAt not set")
	}

	purged, err := s.PurgeDLQ(ctx, time.Now().UTC().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("PurgeDLQ error: %v", err)
	}
	if purged != 2 {
		t.Fatalf("purged = %d, want 2", purged)
	}

	n, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ error: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}
