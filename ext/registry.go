package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type windowOpenedEntry struct {
	name string
	hook WindowOpened
}

type eventMergedEntry struct {
	name string
	hook EventMerged
}

type windowClosedEntry struct {
	name string
	hook WindowClosed
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobCanceledEntry struct {
	name string
	hook JobCanceled
}

type jobDLQEntry struct {
	name string
	hook JobDLQ
}

type deliverySentEntry struct {
	name string
	hook DeliverySent
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	windowOpened []windowOpenedEntry
	eventMerged  []eventMergedEntry
	windowClosed []windowClosedEntry
	jobCompleted []jobCompletedEntry
	jobFailed    []jobFailedEntry
	jobCanceled  []jobCanceledEntry
	jobDLQ       []jobDLQEntry
	deliverySent []deliverySentEntry
	shutdown     []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(WindowOpened); ok {
		r.windowOpened = append(r.windowOpened, windowOpenedEntry{name, h})
	}
	if h, ok := e.(EventMerged); ok {
		r.eventMerged = append(r.eventMerged, eventMergedEntry{name, h})
	}
	if h, ok := e.(WindowClosed); ok {
		r.windowClosed = append(r.windowClosed, windowClosedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobCanceled); ok {
		r.jobCanceled = append(r.jobCanceled, jobCanceledEntry{name, h})
	}
	if h, ok := e.(JobDLQ); ok {
		r.jobDLQ = append(r.jobDLQ, jobDLQEntry{name, h})
	}
	if h, ok := e.(DeliverySent); ok {
		r.deliverySent = append(r.deliverySent, deliverySentEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Digest window emitters
// ──────────────────────────────────────────────────

// EmitWindowOpened notifies all extensions that implement WindowOpened.
func (r *Registry) EmitWindowOpened(ctx context.Context, owner *job.Job) {
	for _, e := range r.windowOpened {
		if err := e.hook.OnWindowOpened(ctx, owner); err != nil {
			r.logHookError("OnWindowOpened", e.name, err)
		}
	}
}

// EmitEventMerged notifies all extensions that implement EventMerged.
func (r *Registry) EmitEventMerged(ctx context.Context, owner, merged *job.Job) {
	for _, e := range r.eventMerged {
		if err := e.hook.OnEventMerged(ctx, owner, merged); err != nil {
			r.logHookError("OnEventMerged", e.name, err)
		}
	}
}

// EmitWindowClosed notifies all extensions that implement WindowClosed.
func (r *Registry) EmitWindowClosed(ctx context.Context, owner *job.Job, eventCount int) {
	for _, e := range r.windowClosed {
		if err := e.hook.OnWindowClosed(ctx, owner, eventCount); err != nil {
			r.logHookError("OnWindowClosed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobCanceled notifies all extensions that implement JobCanceled.
func (r *Registry) EmitJobCanceled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCanceled {
		if err := e.hook.OnJobCanceled(ctx, j); err != nil {
			r.logHookError("OnJobCanceled", e.name, err)
		}
	}
}

// EmitJobDLQ notifies all extensions that implement JobDLQ.
func (r *Registry) EmitJobDLQ(ctx context.Context, j *job.Job, entryID id.DLQID, jobErr error) {
	for _, e := range r.jobDLQ {
		if err := e.hook.OnJobDLQ(ctx, j, entryID, jobErr); err != nil {
			r.logHookError("OnJobDLQ", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Delivery emitters
// ──────────────────────────────────────────────────

// EmitDeliverySent notifies all extensions that implement DeliverySent.
func (r *Registry) EmitDeliverySent(ctx context.Context, j *job.Job, providerID string) {
	for _, e := range r.deliverySent {
		if err := e.hook.OnDeliverySent(ctx, j, providerID); err != nil {
			r.logHookError("OnDeliverySent", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a hook failure without interrupting dispatch.
// Extension errors never affect engine behaviour.
func (r *Registry) logHookError(hook, extension string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Warn("extension hook failed",
		slog.String("hook", hook),
		slog.String("extension", extension),
		slog.String("error", err.Error()),
	)
}
