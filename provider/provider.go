// Package provider defines the delivery provider abstraction and the
// built-in integrations that push rendered messages to external
// channels.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/herald"
	"github.com/xraph/herald/job"
)

// Message is a rendered notification handed to a deliverer.
type Message struct {
	// Recipient is the channel-specific address: a phone number, a
	// device token, an application URL.
	Recipient string

	// Title is an optional short headline. Channels without a title
	// concept ignore it.
	Title string

	// Body is the rendered message content.
	Body string
}

// Receipt is the provider's acknowledgement of an accepted message.
type Receipt struct {
	// MessageID is the provider-assigned identifier, when one exists.
	MessageID string
}

// Deliverer pushes one message to an external channel.
type Deliverer interface {
	// ID returns the provider identifier, unique per registry.
	ID() string

	// Channel returns the step type this provider serves.
	Channel() job.StepType

	// Deliver sends the message. Errors are wrapped in
	// herald.DeliveryError by the caller.
	Deliver(ctx context.Context, msg Message) (*Receipt, error)
}

// Registry maps channels to deliverers. One deliverer per channel; a
// later registration for the same channel replaces the earlier one. It
// is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byChannel map[job.StepType]Deliverer
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		byChannel: make(map[job.StepType]Deliverer),
	}
}

// Register adds a deliverer for its channel.
func (r *Registry) Register(d Deliverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byChannel[d.Channel()] = d
}

// ForChannel returns the deliverer serving the channel, or
// ErrNoProvider.
func (r *Registry) ForChannel(ch job.StepType) (Deliverer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byChannel[ch]
	if !ok {
		return nil, fmt.Errorf("herald/provider: channel %s: %w", ch, herald.ErrNoProvider)
	}
	return d, nil
}
