package job

import (
	"encoding/json"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusPending means the job has been materialized but not yet
	// handed to the delay queue.
	StatusPending Status = "pending"
	// StatusQueued means the job has a delay queue entry and will run
	// when it fires.
	StatusQueued Status = "queued"
	// StatusRunning means a worker is currently executing the job.
	StatusRunning Status = "running"
	// StatusDelayed means the job owns an open digest window and will
	// run when the window closes.
	StatusDelayed Status = "delayed"
	// StatusMerged means the job's event was folded into another job's
	// open digest window. A merged job never executes; it is a record
	// of contribution. Terminal.
	StatusMerged Status = "merged"
	// StatusCompleted means the job finished successfully. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means delivery failed and will not be retried here.
	// Terminal.
	StatusFailed Status = "failed"
	// StatusCanceled means the job was explicitly canceled before it
	// ran. Terminal.
	StatusCanceled Status = "canceled"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusMerged, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// StepType identifies what a workflow step does.
type StepType string

const (
	StepSMS    StepType = "sms"
	StepEmail  StepType = "email"
	StepPush   StepType = "push"
	StepChat   StepType = "chat"
	StepInApp  StepType = "in_app"
	StepDigest StepType = "digest"
)

// IsChannel reports whether t is a delivery channel (as opposed to a
// digest aggregation step).
func (t StepType) IsChannel() bool { return t != StepDigest }

// Job represents one unit of work for one workflow step, one recipient,
// and one trigger transaction.
type Job struct {
	herald.Entity

	ID id.JobID `json:"id"`

	// TransactionID correlates all jobs materialized by one trigger
	// call. Jobs merged into a digest window keep their own transaction.
	TransactionID id.TransactionID `json:"transaction_id"`

	// Workflow is the definition identifier used to look the workflow up
	// in the registry; WorkflowID scopes the digest window tuple.
	Workflow   string        `json:"workflow"`
	WorkflowID id.WorkflowID `json:"workflow_id"`

	EnvironmentID  string `json:"environment_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`

	SubscriberID id.SubscriberID `json:"subscriber_id"`

	StepIndex int      `json:"step_index"`
	StepType  StepType `json:"step_type"`

	// Content is the message template source for channel steps.
	Content string `json:"content,omitempty"`

	Status Status `json:"status"`

	// Payload is the event payload of the triggering call. Immutable:
	// merges never rewrite it, they append to the window owner's
	// Digest.Events instead.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Digest is present only on digest-type jobs (and on their
	// downstream jobs, carrying the aggregated event list forward).
	Digest *Digest `json:"digest,omitempty"`

	// DigestKeyValue is the resolved partition key of the window this
	// job belongs to ("no-key" when the step has no digest key). Indexed
	// by the stores to make the atomic merge query cheap.
	DigestKeyValue string `json:"digest_key_value,omitempty"`

	// ReArmEntry is the delay queue entry ID of the active backoff
	// re-arm timer, if any. The window-ceiling entry is tracked by the
	// queue itself under the job ID.
	ReArmEntry string `json:"rearm_entry,omitempty"`

	// LastError records the delivery failure that moved the job to
	// StatusFailed.
	LastError string `json:"last_error,omitempty"`

	// ProviderMessageID is the delivery receipt identifier on success.
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

// Clone returns a deep copy of j. Stores hand out clones so callers can
// mutate without racing against the store's own copy.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.Digest != nil {
		cp.Digest = j.Digest.Clone()
	}
	return &cp
}
