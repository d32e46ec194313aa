package job

import (
	"encoding/json"
	"time"
)

// DigestType selects the merge strategy for a digest step.
type DigestType string

const (
	// DigestRegular keeps the window close time fixed at
	// creation + Amount·Unit.
	DigestRegular DigestType = "regular"
	// DigestBackoff re-extends the close time by BackoffAmount·BackoffUnit
	// on every merged event, up to the Amount·Unit ceiling measured from
	// window creation.
	DigestBackoff DigestType = "backoff"
)

// DigestUnit is the time unit for digest window durations.
type DigestUnit string

const (
	UnitSeconds DigestUnit = "seconds"
	UnitMinutes DigestUnit = "minutes"
	UnitHours   DigestUnit = "hours"
	UnitDays    DigestUnit = "days"
)

// Duration converts amount units into a time.Duration.
func (u DigestUnit) Duration(amount int) time.Duration {
	switch u {
	case UnitSeconds:
		return time.Duration(amount) * time.Second
	case UnitMinutes:
		return time.Duration(amount) * time.Minute
	case UnitHours:
		return time.Duration(amount) * time.Hour
	case UnitDays:
		return time.Duration(amount) * 24 * time.Hour
	default:
		return 0
	}
}

// NoDigestKey is the partition key used when a digest step has no
// DigestKey configured: all events for the recipient share one window.
const NoDigestKey = "no-key"

// Digest holds the window configuration and the aggregated events of a
// digest-type job.
type Digest struct {
	Unit   DigestUnit `json:"unit"`
	Amount int        `json:"amount"`
	Type   DigestType `json:"type"`

	// DigestKey names a payload field used to partition windows
	// (e.g. per post, per order). Empty means one shared window per
	// recipient.
	DigestKey string `json:"digest_key,omitempty"`

	BackoffUnit   DigestUnit `json:"backoff_unit,omitempty"`
	BackoffAmount int        `json:"backoff_amount,omitempty"`

	// UpdateMode marks the downstream delivery as an update of a
	// previously delivered message. When set, the event list handed to
	// the next step excludes the window's first event: that event was
	// already delivered standalone when it opened the window.
	UpdateMode bool `json:"update_mode,omitempty"`

	// Events is the ordered sequence of merged payloads. The window
	// owner's own trigger payload is NOT in the list: it stays on
	// Job.Payload and is prepended when the window closes (omitted in
	// UpdateMode). Order is the serialization order of the atomic
	// appends, monotonic but not necessarily wall-clock arrival order.
	Events []json.RawMessage `json:"events,omitempty"`
}

// Interval returns the window length from creation to close (the
// backoff ceiling for DigestBackoff).
func (d *Digest) Interval() time.Duration {
	return d.Unit.Duration(d.Amount)
}

// BackoffInterval returns the per-event re-arm delay for DigestBackoff.
func (d *Digest) BackoffInterval() time.Duration {
	return d.BackoffUnit.Duration(d.BackoffAmount)
}

// Clone returns a deep copy of d.
func (d *Digest) Clone() *Digest {
	cp := *d
	if d.Events != nil {
		cp.Events = make([]json.RawMessage, len(d.Events))
		for i, ev := range d.Events {
			cp.Events[i] = append(json.RawMessage(nil), ev...)
		}
	}
	return &cp
}
