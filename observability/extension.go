// Package observability provides a Herald extension that records
// lifecycle metrics via OpenTelemetry.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/herald/ext"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

const meterName = "github.com/xraph/herald/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.WindowOpened = (*MetricsExtension)(nil)
	_ ext.EventMerged  = (*MetricsExtension)(nil)
	_ ext.WindowClosed = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobCanceled  = (*MetricsExtension)(nil)
	_ ext.JobDLQ       = (*MetricsExtension)(nil)
	_ ext.DeliverySent = (*MetricsExtension)(nil)
)

// MetricsExtension records digest and job lifecycle metrics. Register
// it as a Herald extension to track window open/merge/close rates, job
// completions and failures, DLQ entries, and provider deliveries.
type MetricsExtension struct {
	windowsOpened metric.Int64Counter
	eventsMerged  metric.Int64Counter
	windowsClosed metric.Int64Counter
	windowSize    metric.Int64Histogram
	jobsCompleted metric.Int64Counter
	jobsFailed    metric.Int64Counter
	jobsCanceled  metric.Int64Counter
	jobsDLQ       metric.Int64Counter
	deliveries    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// meter provider.
func NewMetricsExtension() (*MetricsExtension, error) {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) (*MetricsExtension, error) {
	m := &MetricsExtension{}
	var err error

	if m.windowsOpened, err = meter.Int64Counter("herald.digest.windows_opened",
		metric.WithDescription("Digest windows opened"),
	); err != nil {
		return nil, err
	}
	if m.eventsMerged, err = meter.Int64Counter("herald.digest.events_merged",
		metric.WithDescription("Events merged into open digest windows"),
	); err != nil {
		return nil, err
	}
	if m.windowsClosed, err = meter.Int64Counter("herald.digest.windows_closed",
		metric.WithDescription("Digest windows closed"),
	); err != nil {
		return nil, err
	}
	if m.windowSize, err = meter.Int64Histogram("herald.digest.window_size",
		metric.WithDescription("Events collected per closed digest window"),
	); err != nil {
		return nil, err
	}
	if m.jobsCompleted, err = meter.Int64Counter("herald.job.completed",
		metric.WithDescription("Jobs completed"),
	); err != nil {
		return nil, err
	}
	if m.jobsFailed, err = meter.Int64Counter("herald.job.failed",
		metric.WithDescription("Jobs failed"),
	); err != nil {
		return nil, err
	}
	if m.jobsCanceled, err = meter.Int64Counter("herald.job.canceled",
		metric.WithDescription("Jobs canceled"),
	); err != nil {
		return nil, err
	}
	if m.jobsDLQ, err = meter.Int64Counter("herald.job.dlq",
		metric.WithDescription("Jobs moved to the dead letter queue"),
	); err != nil {
		return nil, err
	}
	if m.deliveries, err = meter.Int64Counter("herald.delivery.sent",
		metric.WithDescription("Messages accepted by providers"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func workflowAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("workflow", j.Workflow),
		attribute.String("channel", string(j.StepType)),
	)
}

// ── Digest window hooks ─────────────────────────────

// OnWindowOpened implements ext.WindowOpened.
func (m *MetricsExtension) OnWindowOpened(ctx context.Context, owner *job.Job) error {
	m.windowsOpened.Add(ctx, 1, workflowAttrs(owner))
	return nil
}

// OnEventMerged implements ext.EventMerged.
func (m *MetricsExtension) OnEventMerged(ctx context.Context, owner *job.Job, _ *job.Job) error {
	m.eventsMerged.Add(ctx, 1, workflowAttrs(owner))
	return nil
}

// OnWindowClosed implements ext.WindowClosed.
func (m *MetricsExtension) OnWindowClosed(ctx context.Context, owner *job.Job, eventCount int) error {
	m.windowsClosed.Add(ctx, 1, workflowAttrs(owner))
	m.windowSize.Record(ctx, int64(eventCount), workflowAttrs(owner))
	return nil
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.jobsCompleted.Add(ctx, 1, workflowAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobsFailed.Add(ctx, 1, workflowAttrs(j))
	return nil
}

// OnJobCanceled implements ext.JobCanceled.
func (m *MetricsExtension) OnJobCanceled(ctx context.Context, j *job.Job) error {
	m.jobsCanceled.Add(ctx, 1, workflowAttrs(j))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ id.DLQID, _ error) error {
	m.jobsDLQ.Add(ctx, 1, workflowAttrs(j))
	return nil
}

// ── Delivery hooks ──────────────────────────────────

// OnDeliverySent implements ext.DeliverySent.
func (m *MetricsExtension) OnDeliverySent(ctx context.Context, j *job.Job, providerID string) error {
	m.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", j.Workflow),
		attribute.String("channel", string(j.StepType)),
		attribute.String("provider", providerID),
	))
	return nil
}
