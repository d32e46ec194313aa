package herald

import "time"

// Entity carries the timestamps shared by all persisted herald entities.
// UpdatedAt doubles as the ordering signal for window ownership: the job
// that currently owns an open digest window is the one most recently
// touched by a merge.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity with both timestamps set to now (UTC).
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch refreshes UpdatedAt.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}
