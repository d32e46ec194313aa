// Package job defines the job entity, its status state machine, the
// digest window configuration, and the persistence contract.
//
// # Job Entity
//
// A [Job] is one unit of work for one workflow step, one recipient, and
// one trigger transaction (or digest window). It embeds [herald.Entity]
// for timestamps and progresses through a status machine:
//
//	pending → queued  → running → completed
//	pending → queued  → running → failed
//	pending → delayed → running → completed   (digest window owner)
//	pending → merged                          (digest contribution, terminal)
//	pending|queued|delayed → canceled
//
// DELAYED and MERGED are digest-specific sub-states of PENDING: the
// DELAYED job owns the open window and eventually runs when the window
// closes; a MERGED job is a record of contribution and never executes.
//
// Transition legality is a pure function, [CanTransition]. All stores
// enforce it with conditional writes ([Store.TransitionStatus]), so a
// redelivered queue entry for an already-completed job is a no-op.
//
// # Digest Windows
//
// A digest window is not a separate entity: it is represented entirely
// by the owning DELAYED job's [Digest] block. At most one DELAYED job
// exists per (workflow, subscriber, digest key value) tuple at any time;
// the store primitives [Store.MergeDigestEvent] and
// [Store.ClaimDigestOwner] enforce this atomically.
package job
