// Package queue provides the delay queue that fires jobs when their
// wait elapses, plus per-channel rate limiting for delivery dispatch.
//
// A DelayQueue holds timer entries, not jobs: the job store stays the
// source of truth for job state, and a fired entry is only a signal to
// attempt execution. Entries may fire more than once across process
// restarts; consumers must treat firing as at-least-once and rely on
// the store's status transitions for exactly-once execution.
package queue
