package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/digest"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/queue"
	"github.com/xraph/herald/scheduler"
	"github.com/xraph/herald/store/memory"
)

type fixture struct {
	store *memory.Store
	queue *queue.Memory
	sched *scheduler.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	q := queue.NewMemory(32)
	t.Cleanup(func() { q.Close(context.Background()) })
	resolver := digest.NewResolver(store, q)
	return &fixture{
		store: store,
		queue: q,
		sched: scheduler.New(store, q, resolver),
	}
}

// stepJobs creates the full job chain of one transaction for one
// recipient, mirroring how triggers lay out jobs upfront.
func stepJobs(t *testing.T, f *fixture, types ...job.StepType) []*job.Job {
	t.Helper()
	trx := id.NewTransactionID()
	wfID := id.NewWorkflowID()
	subID := id.NewSubscriberID()

	jobs := make([]*job.Job, len(types))
	for i, st := range types {
		j := &job.Job{
			Entity:        herald.NewEntity(),
			ID:            id.NewJobID(),
			TransactionID: trx,
			Workflow:      "flow",
			WorkflowID:    wfID,
			SubscriberID:  subID,
			StepIndex:     i,
			StepType:      st,
			Status:        job.StatusPending,
			Payload:       json.RawMessage(`{"n":0}`),
		}
		if st == job.StepDigest {
			j.Digest = &job.Digest{Unit: job.UnitMinutes, Amount: 5, Type: job.DigestRegular}
		}
		jobs[i] = j
	}
	if err := f.store.CreateJobs(context.Background(), jobs); err != nil {
		t.Fatalf("CreateJobs error: %v", err)
	}
	return jobs
}

func TestDispatch_ChannelJobIsQueued(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	jobs := stepJobs(t, f, job.StepSMS)

	got, err := f.sched.Dispatch(ctx, jobs[0])
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if got.Status != job.StatusQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}

	select {
	case e := <-f.queue.Fired():
		if e.JobID != jobs[0].ID {
			t.Fatalf("fired %s, want %s", e.JobID, jobs[0].ID)
		}
	case <-time.After(time.Second):
		t.Fatal("job never fired")
	}
}

func TestDispatch_DigestJobGoesToResolver(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	jobs := stepJobs(t, f, job.StepDigest, job.StepEmail)

	owner, err := f.sched.Dispatch(ctx, jobs[0])
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if owner.Status != job.StatusDelayed {
		t.Fatalf("status = %s, want delayed", owner.Status)
	}
}

func TestScheduleNext_AdvancesToNextStep(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	jobs := stepJobs(t, f, job.StepSMS, job.StepEmail)

	// First step ran to completion.
	mustTransition(t, f, jobs[0], job.StatusQueued, job.StatusRunning, job.StatusCompleted)
	done, _ := f.store.GetJob(ctx, jobs[0].ID)

	next, err := f.sched.ScheduleNext(ctx, done)
	if err != nil {
		t.Fatalf("ScheduleNext error: %v", err)
	}
	if next == nil || next.ID != jobs[1].ID {
		t.Fatalf("next = %v, want job at step 1", next)
	}
	if next.Status != job.StatusQueued {
		t.Fatalf("status = %s, want queued", next.Status)
	}
}

func TestScheduleNext_LastStepEndsTransaction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	jobs := stepJobs(t, f, job.StepSMS)

	mustTransition(t, f, jobs[0], job.StatusQueued, job.StatusRunning, job.StatusCompleted)
	done, _ := f.store.GetJob(ctx, jobs[0].ID)

	next, err := f.sched.ScheduleNext(ctx, done)
	if err != nil {
		t.Fatalf("ScheduleNext error: %v", err)
	}
	if next != nil {
		t.Fatalf("next = %v, want nil", next)
	}
}

func TestScheduleNext_CarriesDigestEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	jobs := stepJobs(t, f, job.StepDigest, job.StepEmail)

	// The digest owner collected two merged events and then its window
	// closed.
	owner := jobs[0]
	owner.Status = job.StatusRunning
	owner.Digest.Events = []json.RawMessage{
		json.RawMessage(`{"n":1}`),
		json.RawMessage(`{"n":2}`),
	}
	if err := f.store.UpdateJob(ctx, owner); err != nil {
		t.Fatalf("UpdateJob error: %v", err)
	}

	next, err := f.sched.ScheduleNext(ctx, owner)
	if err != nil {
		t.Fatalf("ScheduleNext error: %v", err)
	}
	if next == nil {
		t.Fatal("expected a next job")
	}

	got, err := f.store.GetJob(ctx, next.ID)
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if got.Digest == nil {
		t.Fatal("events were not carried forward")
	}
	// Owner payload leads, merged events follow in order.
	want := []string{`{"n":0}`, `{"n":1}`, `{"n":2}`}
	if len(got.Digest.Events) != len(want) {
		t.Fatalf("events = %d, want %d", len(got.Digest.Events), len(want))
	}
	for i, w := range want {
		if string(got.Digest.Events[i]) != w {
			t.Errorf("event[%d] = %s, want %s", i, got.Digest.Events[i], w)
		}
	}
}

func TestCollectedEvents_UpdateModeDropsLeadPayload(t *testing.T) {
	t.Parallel()

	owner := &job.Job{
		Payload: json.RawMessage(`{"n":0}`),
		Digest: &job.Digest{
			UpdateMode: true,
			Events: []json.RawMessage{
				json.RawMessage(`{"n":1}`),
			},
		},
	}

	events := scheduler.CollectedEvents(owner)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if string(events[0]) != `{"n":1}` {
		t.Fatalf("event = %s", events[0])
	}
}

func TestDispatch_ClosedQueueReportsSchedulingUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	jobs := stepJobs(t, f, job.StepSMS)

	f.queue.Close(ctx)

	_, err := f.sched.Dispatch(ctx, jobs[0])
	if !errors.Is(err, herald.ErrSchedulingUnavailable) {
		t.Fatalf("error = %v, want ErrSchedulingUnavailable", err)
	}

	// The claim already happened; the sweeper finds the job as stuck.
	got, err := f.store.GetJob(ctx, jobs[0].ID)
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if got.Status != job.StatusQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}
}

func mustTransition(t *testing.T, f *fixture, j *job.Job, statuses ...job.Status) {
	t.Helper()
	from := j.Status
	for _, to := range statuses {
		if _, err := f.store.TransitionStatus(context.Background(), j.ID, to, from); err != nil {
			t.Fatalf("TransitionStatus(%s -> %s) error: %v", from, to, err)
		}
		from = to
	}
}
