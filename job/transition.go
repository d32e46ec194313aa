package job

import (
	"fmt"

	"github.com/xraph/herald"
)

// transitions maps each status to the set of statuses it may move to.
// Terminal statuses have no entry. Transitions are forward-only: there
// is no path back to pending, and no path out of a terminal status.
var transitions = map[Status][]Status{
	StatusPending: {StatusQueued, StatusDelayed, StatusMerged, StatusCanceled},
	StatusQueued:  {StatusRunning, StatusCanceled},
	StatusDelayed: {StatusRunning, StatusCanceled},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether a job may move from one status to
// another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition applies the status change to j, touching its updated
// timestamp. It returns ErrInvalidTransition when the move is not
// allowed.
func (j *Job) Transition(to Status) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("herald/job: transition %s -> %s: %w", j.Status, to, herald.ErrInvalidTransition)
	}
	j.Status = to
	j.Touch()
	return nil
}

// ExecutableStatuses are the statuses from which a job may enter
// running when fired by the queue.
var ExecutableStatuses = []Status{StatusQueued, StatusDelayed}
