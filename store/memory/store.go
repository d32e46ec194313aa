// Package memory provides a fully in-memory store implementation.
// Safe for concurrent access. Intended for unit testing and
// development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// Compile-time interface checks.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of the herald stores. A
// single mutex serializes every operation, which trivially gives the
// digest primitives the same atomicity the SQL and document stores get
// from conditional updates.
type Store struct {
	mu sync.RWMutex

	jobs   map[string]*job.Job
	dlqs   map[string]*dlq.Entry
	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*job.Job),
		dlqs: make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping succeeds while the store is open.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return herald.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Every subsequent operation reports
// ErrStoreClosed. Closing twice is a no-op.
func (m *Store) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return herald.ErrStoreClosed
	}
	return m.createLocked(j)
}

// CreateJobs persists a batch of jobs. The batch is all-or-nothing: a
// duplicate ID anywhere rejects the whole batch.
func (m *Store) CreateJobs(_ context.Context, jobs []*job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return herald.ErrStoreClosed
	}

	for _, j := range jobs {
		if _, exists := m.jobs[j.ID.String()]; exists {
			return herald.ErrJobAlreadyExists
		}
	}
	for _, j := range jobs {
		if err := m.createLocked(j); err != nil {
			return err
		}
	}
	return nil
}

func (m *Store) createLocked(j *job.Job) error {
	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return herald.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, herald.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, herald.ErrJobNotFound
	}
	return j.Clone(), nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return herald.ErrStoreClosed
	}

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return herald.ErrJobNotFound
	}
	cp := j.Clone()
	cp.Touch()
	m.jobs[key] = cp
	return nil
}

// ListJobs returns jobs matching the filter, ordered by creation time
// ascending.
func (m *Store) ListJobs(_ context.Context, f job.Filter) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, herald.ErrStoreClosed
	}

	var out []*job.Job
	for _, j := range m.jobs {
		if matches(j, f) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID.String() < out[b].ID.String()
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// CountJobs returns the number of jobs matching the filter.
func (m *Store) CountJobs(_ context.Context, f job.Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, herald.ErrStoreClosed
	}

	var n int64
	for _, j := range m.jobs {
		if matches(j, f) {
			n++
		}
	}
	return n, nil
}

func matches(j *job.Job, f job.Filter) bool {
	if !f.TransactionID.IsNil() && j.TransactionID != f.TransactionID {
		return false
	}
	if !f.WorkflowID.IsNil() && j.WorkflowID != f.WorkflowID {
		return false
	}
	if !f.SubscriberID.IsNil() && j.SubscriberID != f.SubscriberID {
		return false
	}
	if f.StepType != "" && j.StepType != f.StepType {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if j.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// TransitionStatus moves the job to the given status iff its current
// status is one of from.
func (m *Store) TransitionStatus(_ context.Context, jobID id.JobID, to job.Status, from ...job.Status) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, herald.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, herald.ErrJobNotFound
	}

	allowed := false
	for _, s := range from {
		if j.Status == s {
			allowed = true
			break
		}
	}
	if !allowed || !job.CanTransition(j.Status, to) {
		return nil, fmt.Errorf("herald/memory: transition %s -> %s: %w", j.Status, to, herald.ErrInvalidTransition)
	}

	j.Status = to
	j.Touch()
	return j.Clone(), nil
}

// MergeDigestEvent appends event to the delayed window owner for the
// tuple.
func (m *Store) MergeDigestEvent(_ context.Context, t job.WindowTuple, event json.RawMessage) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, herald.ErrStoreClosed
	}

	owner := m.findDelayedOwnerLocked(t)
	if owner == nil {
		return nil, herald.ErrNoOpenWindow
	}
	if owner.Digest == nil {
		owner.Digest = &job.Digest{}
	}
	owner.Digest.Events = append(owner.Digest.Events, append(json.RawMessage(nil), event...))
	owner.Touch()
	return owner.Clone(), nil
}

// ClaimDigestOwner promotes the pending job to the delayed window owner
// for its tuple.
func (m *Store) ClaimDigestOwner(_ context.Context, jobID id.JobID, digestKeyValue string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, herald.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, herald.ErrJobNotFound
	}
	if j.Status != job.StatusPending {
		return nil, fmt.Errorf("herald/memory: claim window: job is %s: %w", j.Status, herald.ErrInvalidTransition)
	}

	tuple := job.WindowTuple{
		WorkflowID:     j.WorkflowID,
		SubscriberID:   j.SubscriberID,
		DigestKeyValue: digestKeyValue,
	}
	if existing := m.findDelayedOwnerLocked(tuple); existing != nil {
		return nil, herald.ErrWindowConflict
	}

	j.DigestKeyValue = digestKeyValue
	j.Status = job.StatusDelayed
	j.Touch()
	return j.Clone(), nil
}

// SetReArmEntry records the owner's active backoff re-arm queue entry
// without touching any other field.
func (m *Store) SetReArmEntry(_ context.Context, jobID id.JobID, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return herald.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return herald.ErrJobNotFound
	}
	j.ReArmEntry = entryID
	j.Touch()
	return nil
}

func (m *Store) findDelayedOwnerLocked(t job.WindowTuple) *job.Job {
	for _, j := range m.jobs {
		if j.Status == job.StatusDelayed &&
			j.StepType == job.StepDigest &&
			j.WorkflowID == t.WorkflowID &&
			j.SubscriberID == t.SubscriberID &&
			j.DigestKeyValue == t.DigestKeyValue {
			return j
		}
	}
	return nil
}

// FindDelayedByTransaction returns the delayed digest job created by
// the given trigger transaction.
func (m *Store) FindDelayedByTransaction(_ context.Context, trxID id.TransactionID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, herald.ErrStoreClosed
	}

	for _, j := range m.jobs {
		if j.TransactionID == trxID && j.Status == job.StatusDelayed && j.StepType == job.StepDigest {
			return j.Clone(), nil
		}
	}
	return nil, herald.ErrJobNotFound
}

// StuckJobs returns queued jobs whose last update is older than the
// cutoff.
func (m *Store) StuckJobs(_ context.Context, olderThan time.Time, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, herald.ErrStoreClosed
	}

	var out []*job.Job
	for _, j := range m.jobs {
		if j.Status == job.StatusQueued && j.UpdatedAt.Before(olderThan) {
			out = append(out, j.Clone())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a failed job entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return herald.ErrStoreClosed
	}

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, herald.ErrStoreClosed
	}

	var out []*dlq.Entry
	for _, e := range m.dlqs {
		if opts.Workflow != "" && e.Workflow != opts.Workflow {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].FailedAt.After(out[b].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, herald.ErrStoreClosed
	}

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, herald.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return herald.ErrStoreClosed
	}

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return herald.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, herald.ErrStoreClosed
	}

	var n int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			n++
		}
	}
	return n, nil
}

// CountDLQ returns the total number of entries in the dead letter
// queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, herald.ErrStoreClosed
	}
	return int64(len(m.dlqs)), nil
}
