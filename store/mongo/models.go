package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID                string       `bson:"_id"`
	TransactionID     string       `bson:"transaction_id"`
	Workflow          string       `bson:"workflow"`
	WorkflowID        string       `bson:"workflow_id"`
	EnvironmentID     string       `bson:"environment_id,omitempty"`
	OrganizationID    string       `bson:"organization_id,omitempty"`
	SubscriberID      string       `bson:"subscriber_id"`
	StepIndex         int          `bson:"step_index"`
	StepType          string       `bson:"step_type"`
	Content           string       `bson:"content,omitempty"`
	Status            string       `bson:"status"`
	Payload           []byte       `bson:"payload,omitempty"`
	Digest            *digestModel `bson:"digest,omitempty"`
	DigestKeyValue    string       `bson:"digest_key_value,omitempty"`
	ReArmEntry        string       `bson:"rearm_entry,omitempty"`
	LastError         string       `bson:"last_error,omitempty"`
	ProviderMessageID string       `bson:"provider_message_id,omitempty"`
	CreatedAt         time.Time    `bson:"created_at"`
	UpdatedAt         time.Time    `bson:"updated_at"`
}

type digestModel struct {
	Unit          string   `bson:"unit"`
	Amount        int      `bson:"amount"`
	Type          string   `bson:"type"`
	DigestKey     string   `bson:"digest_key,omitempty"`
	BackoffUnit   string   `bson:"backoff_unit,omitempty"`
	BackoffAmount int      `bson:"backoff_amount,omitempty"`
	UpdateMode    bool     `bson:"update_mode,omitempty"`
	Events        [][]byte `bson:"events"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:                j.ID.String(),
		TransactionID:     j.TransactionID.String(),
		Workflow:          j.Workflow,
		WorkflowID:        j.WorkflowID.String(),
		EnvironmentID:     j.EnvironmentID,
		OrganizationID:    j.OrganizationID,
		SubscriberID:      j.SubscriberID.String(),
		StepIndex:         j.StepIndex,
		StepType:          string(j.StepType),
		Content:           j.Content,
		Status:            string(j.Status),
		Payload:           j.Payload,
		DigestKeyValue:    j.DigestKeyValue,
		ReArmEntry:        j.ReArmEntry,
		LastError:         j.LastError,
		ProviderMessageID: j.ProviderMessageID,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
	}
	if j.Digest != nil {
		m.Digest = toDigestModel(j.Digest)
	}
	return m
}

func toDigestModel(d *job.Digest) *digestModel {
	m := &digestModel{
		Unit:          string(d.Unit),
		Amount:        d.Amount,
		Type:          string(d.Type),
		DigestKey:     d.DigestKey,
		BackoffUnit:   string(d.BackoffUnit),
		BackoffAmount: d.BackoffAmount,
		UpdateMode:    d.UpdateMode,
		Events:        make([][]byte, 0, len(d.Events)),
	}
	for _, ev := range d.Events {
		m.Events = append(m.Events, ev)
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: parse job id %q: %w", m.ID, err)
	}
	trxID, err := id.ParseTransactionID(m.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: parse transaction id %q: %w", m.TransactionID, err)
	}
	wfID, err := id.ParseWorkflowID(m.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: parse workflow id %q: %w", m.WorkflowID, err)
	}
	subID, err := id.ParseSubscriberID(m.SubscriberID)
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: parse subscriber id %q: %w", m.SubscriberID, err)
	}

	j := &job.Job{
		Entity: herald.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                jobID,
		TransactionID:     trxID,
		Workflow:          m.Workflow,
		WorkflowID:        wfID,
		EnvironmentID:     m.EnvironmentID,
		OrganizationID:    m.OrganizationID,
		SubscriberID:      subID,
		StepIndex:         m.StepIndex,
		StepType:          job.StepType(m.StepType),
		Content:           m.Content,
		Status:            job.Status(m.Status),
		Payload:           m.Payload,
		DigestKeyValue:    m.DigestKeyValue,
		ReArmEntry:        m.ReArmEntry,
		LastError:         m.LastError,
		ProviderMessageID: m.ProviderMessageID,
	}
	if m.Digest != nil {
		j.Digest = fromDigestModel(m.Digest)
	}
	return j, nil
}

func fromDigestModel(m *digestModel) *job.Digest {
	d := &job.Digest{
		Unit:          job.DigestUnit(m.Unit),
		Amount:        m.Amount,
		Type:          job.DigestType(m.Type),
		DigestKey:     m.DigestKey,
		BackoffUnit:   job.DigestUnit(m.BackoffUnit),
		BackoffAmount: m.BackoffAmount,
		UpdateMode:    m.UpdateMode,
		Events:        make([]json.RawMessage, 0, len(m.Events)),
	}
	for _, ev := range m.Events {
		d.Events = append(d.Events, ev)
	}
	return d
}

// ── DLQ model ─────────────────────────────────────────────────────

type dlqModel struct {
	ID             string     `bson:"_id"`
	JobID          string     `bson:"job_id"`
	TransactionID  string     `bson:"transaction_id"`
	Workflow       string     `bson:"workflow"`
	SubscriberID   string     `bson:"subscriber_id"`
	StepIndex      int        `bson:"step_index"`
	StepType       string     `bson:"step_type"`
	Content        string     `bson:"content,omitempty"`
	Payload        []byte     `bson:"payload,omitempty"`
	DigestEvents   [][]byte   `bson:"digest_events,omitempty"`
	EnvironmentID  string     `bson:"environment_id,omitempty"`
	OrganizationID string     `bson:"organization_id,omitempty"`
	Error          string     `bson:"error"`
	FailedAt       time.Time  `bson:"failed_at"`
	ReplayedAt     *time.Time `bson:"replayed_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
}

func toDLQModel(e *dlq.Entry) *dlqModel {
	m := &dlqModel{
		ID:             e.ID.String(),
		JobID:          e.JobID.String(),
		TransactionID:  e.TransactionID.String(),
		Workflow:       e.Workflow,
		SubscriberID:   e.SubscriberID.String(),
		StepIndex:      e.StepIndex,
		StepType:       string(e.StepType),
		Content:        e.Content,
		Payload:        e.Payload,
		EnvironmentID:  e.EnvironmentID,
		OrganizationID: e.OrganizationID,
		Error:          e.Error,
		FailedAt:       e.FailedAt,
		ReplayedAt:     e.ReplayedAt,
		CreatedAt:      e.CreatedAt,
	}
	for _, ev := range e.DigestEvents {
		m.DigestEvents = append(m.DigestEvents, ev)
	}
	return m
}

func fromDLQModel(m *dlqModel) (*dlq.Entry, error) {
	entryID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: parse dlq id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: parse dlq job id %q: %w", m.JobID, err)
	}
	trxID, err := id.ParseTransactionID(m.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: parse dlq transaction id %q: %w", m.TransactionID, err)
	}
	subID, err := id.ParseSubscriberID(m.SubscriberID)
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: parse dlq subscriber id %q: %w", m.SubscriberID, err)
	}

	e := &dlq.Entry{
		ID:             entryID,
		JobID:          jobID,
		TransactionID:  trxID,
		Workflow:       m.Workflow,
		SubscriberID:   subID,
		StepIndex:      m.StepIndex,
		StepType:       job.StepType(m.StepType),
		Content:        m.Content,
		Payload:        m.Payload,
		EnvironmentID:  m.EnvironmentID,
		OrganizationID: m.OrganizationID,
		Error:          m.Error,
		FailedAt:       m.FailedAt,
		ReplayedAt:     m.ReplayedAt,
		CreatedAt:      m.CreatedAt,
	}
	for _, ev := range m.DigestEvents {
		e.DigestEvents = append(e.DigestEvents, ev)
	}
	return e, nil
}
