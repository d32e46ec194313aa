package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/observability"
)

func newTestExtension(t *testing.T) *observability.MetricsExtension {
	t.Helper()
	e, err := observability.NewMetricsExtensionWithMeter(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsExtensionWithMeter: %v", err)
	}
	return e
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		Workflow: "activity-digest",
		StepType: job.StepEmail,
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	e := newTestExtension(t)
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Hooks(t *testing.T) {
	e := newTestExtension(t)
	ctx := context.Background()
	j := newTestJob()

	if err := e.OnWindowOpened(ctx, j); err != nil {
		t.Fatalf("OnWindowOpened: %v", err)
	}
	if err := e.OnEventMerged(ctx, j, newTestJob()); err != nil {
		t.Fatalf("OnEventMerged: %v", err)
	}
	if err := e.OnWindowClosed(ctx, j, 4); err != nil {
		t.Fatalf("OnWindowClosed: %v", err)
	}
	if err := e.OnJobCompleted(ctx, j, 100*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := e.OnJobFailed(ctx, j, errors.New("provider down")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if err := e.OnJobCanceled(ctx, j); err != nil {
		t.Fatalf("OnJobCanceled: %v", err)
	}
	if err := e.OnJobDLQ(ctx, j, id.NewDLQID(), errors.New("provider down")); err != nil {
		t.Fatalf("OnJobDLQ: %v", err)
	}
	if err := e.OnDeliverySent(ctx, j, "gotify"); err != nil {
		t.Fatalf("OnDeliverySent: %v", err)
	}
}
