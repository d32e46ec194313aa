package dlq

import (
	"encoding/json"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// Entry represents a job whose delivery failed and was moved to the
// dead letter queue for inspection or replay.
type Entry struct {
	ID             id.DLQID          `json:"id"`
	JobID          id.JobID          `json:"job_id"`
	TransactionID  id.TransactionID  `json:"transaction_id"`
	Workflow       string            `json:"workflow"`
	SubscriberID   id.SubscriberID   `json:"subscriber_id"`
	StepIndex      int               `json:"step_index"`
	StepType       job.StepType      `json:"step_type"`
	Content        string            `json:"content,omitempty"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	DigestEvents   []json.RawMessage `json:"digest_events,omitempty"`
	EnvironmentID  string            `json:"environment_id,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`
	Error          string            `json:"error"`
	FailedAt       time.Time         `json:"failed_at"`
	ReplayedAt     *time.Time        `json:"replayed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
