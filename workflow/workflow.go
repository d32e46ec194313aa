// Package workflow defines notification workflow definitions, their
// ordered steps, and the registry that resolves workflow identifiers at
// trigger time.
package workflow

import (
	"fmt"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// Definition is a notification workflow: an ordered list of steps
// executed per recipient each time the workflow is triggered.
type Definition struct {
	// ID is the stable workflow identity.
	ID id.WorkflowID `json:"id"`

	// Identifier is the human-chosen trigger name, unique per registry.
	Identifier string `json:"identifier"`

	// Name is a display name; defaults to Identifier when empty.
	Name string `json:"name,omitempty"`

	// Active gates triggering. Inactive workflows reject triggers.
	Active bool `json:"active"`

	// Steps execute in order. A digest step aggregates events and hands
	// the collected list to the steps after it.
	Steps []Step `json:"steps"`
}

// Step is one unit of a workflow: a channel delivery or a digest
// aggregation point.
type Step struct {
	Type job.StepType `json:"type"`

	// Content is the message template for channel steps.
	Content string `json:"content,omitempty"`

	// Digest configures the aggregation window. Required when Type is
	// StepDigest, ignored otherwise.
	Digest *DigestMetadata `json:"digest,omitempty"`
}

// DigestMetadata is the per-step digest configuration carried by a
// workflow definition.
type DigestMetadata struct {
	Unit          job.DigestUnit `json:"unit"`
	Amount        int            `json:"amount"`
	Type          job.DigestType `json:"type"`
	DigestKey     string         `json:"digest_key,omitempty"`
	BackoffUnit   job.DigestUnit `json:"backoff_unit,omitempty"`
	BackoffAmount int            `json:"backoff_amount,omitempty"`
	UpdateMode    bool           `json:"update_mode,omitempty"`
}

// ToDigest materializes the step configuration as a fresh job digest
// with an empty event list.
func (m *DigestMetadata) ToDigest() *job.Digest {
	return &job.Digest{
		Unit:          m.Unit,
		Amount:        m.Amount,
		Type:          m.Type,
		DigestKey:     m.DigestKey,
		BackoffUnit:   m.BackoffUnit,
		BackoffAmount: m.BackoffAmount,
		UpdateMode:    m.UpdateMode,
	}
}

// Validate checks the definition for structural problems: an empty
// identifier, no steps, a digest step without configuration, or a
// backoff digest missing its re-arm interval.
func (d *Definition) Validate() error {
	if d.Identifier == "" {
		return fmt.Errorf("herald/workflow: definition missing identifier")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("herald/workflow: %s: no steps", d.Identifier)
	}
	for i, s := range d.Steps {
		if s.Type == job.StepDigest {
			if s.Digest == nil {
				return fmt.Errorf("herald/workflow: %s: step %d: digest step without digest config", d.Identifier, i)
			}
			if s.Digest.Amount <= 0 {
				return fmt.Errorf("herald/workflow: %s: step %d: digest amount must be positive", d.Identifier, i)
			}
			if s.Digest.Type == job.DigestBackoff && s.Digest.BackoffAmount <= 0 {
				return fmt.Errorf("herald/workflow: %s: step %d: backoff digest missing backoff amount", d.Identifier, i)
			}
		}
	}
	return nil
}

// DigestStep returns the first digest step and its index, or (-1, nil)
// when the workflow has none.
func (d *Definition) DigestStep() (int, *Step) {
	for i := range d.Steps {
		if d.Steps[i].Type == job.StepDigest {
			return i, &d.Steps[i]
		}
	}
	return -1, nil
}
