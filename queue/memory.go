package queue

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
)

// Memory is an in-process DelayQueue backed by time.AfterFunc timers.
// Entries do not survive a restart; use the redis queue when durability
// matters.
type Memory struct {
	mu      sync.Mutex
	entries map[id.EntryID]*memoryEntry
	byJob   map[id.JobID]map[id.EntryID]struct{}
	fired   chan Entry
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

type memoryEntry struct {
	jobID  id.JobID
	fireAt time.Time
	timer  *time.Timer
}

// NewMemory creates an in-memory delay queue. The buffer sizes the
// fired channel; timers that fire while the channel is full block
// until a consumer drains it or the queue closes.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 256
	}
	return &Memory{
		entries: make(map[id.EntryID]*memoryEntry),
		byJob:   make(map[id.JobID]map[id.EntryID]struct{}),
		fired:   make(chan Entry, buffer),
		done:    make(chan struct{}),
	}
}

// Enqueue schedules the job to fire after delay.
func (m *Memory) Enqueue(_ context.Context, jobID id.JobID, delay time.Duration) (id.EntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return id.EntryID{}, herald.ErrQueueClosed
	}

	entryID := id.NewEntryID()
	if delay < 0 {
		delay = 0
	}
	e := &memoryEntry{jobID: jobID, fireAt: time.Now().UTC().Add(delay)}
	e.timer = time.AfterFunc(delay, func() { m.fire(entryID) })

	m.entries[entryID] = e
	if m.byJob[jobID] == nil {
		m.byJob[jobID] = make(map[id.EntryID]struct{})
	}
	m.byJob[jobID][entryID] = struct{}{}
	return entryID, nil
}

func (m *Memory) fire(entryID id.EntryID) {
	m.mu.Lock()
	e, ok := m.entries[entryID]
	if ok {
		m.removeLocked(entryID, e.jobID)
	}
	if !ok || m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	select {
	case m.fired <- Entry{ID: entryID, JobID: e.jobID, FireAt: e.fireAt}:
	case <-m.done:
	}
}

// CancelEntry stops a single pending entry.
func (m *Memory) CancelEntry(_ context.Context, entryID id.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return nil
	}
	e.timer.Stop()
	m.removeLocked(entryID, e.jobID)
	return nil
}

// CancelJob stops every pending entry for the job.
func (m *Memory) CancelJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for entryID := range m.byJob[jobID] {
		if e, ok := m.entries[entryID]; ok {
			e.timer.Stop()
		}
		delete(m.entries, entryID)
	}
	delete(m.byJob, jobID)
	return nil
}

// Fired returns the delivery channel.
func (m *Memory) Fired() <-chan Entry {
	return m.fired
}

// Close stops all timers, waits for in-flight fires, and closes the
// fired channel.
func (m *Memory) Close(_ context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for entryID, e := range m.entries {
		e.timer.Stop()
		delete(m.entries, entryID)
	}
	m.byJob = make(map[id.JobID]map[id.EntryID]struct{})
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
	close(m.fired)
	return nil
}

func (m *Memory) removeLocked(entryID id.EntryID, jobID id.JobID) {
	delete(m.entries, entryID)
	if set := m.byJob[jobID]; set != nil {
		delete(set, entryID)
		if len(set) == 0 {
			delete(m.byJob, jobID)
		}
	}
}
