package herald

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("herald: no store configured")
	ErrStoreClosed = errors.New("herald: store closed")

	// Not found errors.
	ErrJobNotFound      = errors.New("herald: job not found")
	ErrWorkflowNotFound = errors.New("herald: workflow not found")
	ErrDLQNotFound      = errors.New("herald: dlq entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("herald: job already exists")

	// State errors.
	ErrInvalidTransition = errors.New("herald: invalid status transition")
	ErrWorkflowInactive  = errors.New("herald: workflow is inactive")

	// Digest window errors.
	//
	// ErrNoOpenWindow means no DELAYED job currently owns the window for a
	// (workflow, subscriber, digest key) tuple. ErrWindowConflict means an
	// atomic claim or merge lost a race with a concurrent writer and should
	// be retried. ErrResolverUnavailable is surfaced once the retry budget
	// is exhausted.
	ErrNoOpenWindow          = errors.New("herald: no open digest window")
	ErrWindowConflict        = errors.New("herald: digest window write conflict")
	ErrResolverUnavailable   = errors.New("herald: digest resolver unavailable")
	ErrSchedulingUnavailable = errors.New("herald: delay queue unavailable")

	// Delivery errors.
	ErrNoProvider = errors.New("herald: no provider registered for channel")

	// Queue errors.
	ErrQueueClosed = errors.New("herald: delay queue closed")
)

// DeliveryError wraps a provider-level failure. The job that triggered it
// moves to the FAILED terminal state; retry policy belongs to the delivery
// collaborator, not to herald.
type DeliveryError struct {
	Provider string
	Channel  string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("herald: delivery via %s (%s): %v", e.Provider, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
