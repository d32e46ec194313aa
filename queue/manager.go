package queue

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/xraph/herald/job"
)

// ChannelConfig defines per-channel dispatch behaviour such as rate
// limiting and concurrency for outbound delivery.
type ChannelConfig struct {
	// Channel is the step type this config applies to.
	Channel job.StepType

	// MaxConcurrency limits how many deliveries on this channel may run
	// simultaneously across the local worker pool. Zero means no
	// channel-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained deliveries per second for this
	// channel. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// channelState tracks runtime state for a single delivery channel.
type channelState struct {
	config  ChannelConfig
	limiter *rate.Limiter
	active  int
}

// Manager controls per-channel and per-organization rate limiting and
// concurrency for outbound deliveries. It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	channels map[job.StepType]*channelState
	orgs     map[string]*orgState
}

// NewManager creates a Manager with the given channel configurations.
// Channels not listed here have no limits.
func NewManager(configs ...ChannelConfig) *Manager {
	m := &Manager{
		channels: make(map[job.StepType]*channelState, len(configs)),
		orgs:     make(map[string]*orgState),
	}
	for _, cfg := range configs {
		m.channels[cfg.Channel] = newChannelState(cfg)
	}
	return m
}

func newChannelState(cfg ChannelConfig) *channelState {
	cs := &channelState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		cs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return cs
}

// Acquire checks rate limits and concurrency for the given channel and
// organization. If the delivery is allowed to proceed it increments the
// active counter and returns true. The caller MUST call Release when
// the delivery completes.
func (m *Manager) Acquire(channel job.StepType, orgID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.channels[channel]
	if cs != nil {
		if cs.limiter != nil && !cs.limiter.Allow() {
			return false
		}
		if cs.config.MaxConcurrency > 0 && cs.active >= cs.config.MaxConcurrency {
			return false
		}
	}

	if orgID != "" {
		os := m.orgs[orgKey(channel, orgID)]
		if os != nil {
			if os.limiter != nil && !os.limiter.Allow() {
				return false
			}
			if os.maxConcurrency > 0 && os.active >= os.maxConcurrency {
				return false
			}
			os.active++
		}
	}

	if cs != nil {
		cs.active++
	}
	return true
}

// Release decrements the active delivery count for the channel and
// organization.
func (m *Manager) Release(channel job.StepType, orgID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs := m.channels[channel]; cs != nil && cs.active > 0 {
		cs.active--
	}
	if orgID != "" {
		if os := m.orgs[orgKey(channel, orgID)]; os != nil && os.active > 0 {
			os.active--
		}
	}
}

// ActiveCount returns the current number of active deliveries for a
// channel.
func (m *Manager) ActiveCount(channel job.StepType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cs := m.channels[channel]; cs != nil {
		return cs.active
	}
	return 0
}

// ── Per-organization limits ──

// OrgConfig defines rate limits and concurrency for a specific
// organization on a specific channel.
type OrgConfig struct {
	// Channel is the step type this config applies to.
	Channel job.StepType

	// OrgID is the organization identifier (job.OrganizationID).
	OrgID string

	// RateLimit is the sustained deliveries per second for this
	// organization.
	RateLimit float64

	// RateBurst is the burst size for the organization's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous deliveries for this
	// organization on this channel. Zero means no org-specific limit.
	MaxConcurrency int
}

// orgState tracks runtime state for a single channel+organization pair.
type orgState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// orgKey builds the map key for a channel+organization pair.
func orgKey(channel job.StepType, orgID string) string {
	return fmt.Sprintf("%s:%s", channel, orgID)
}

// SetOrgConfig configures rate limits and concurrency for a specific
// organization on a specific channel. Calling this multiple times for
// the same channel+organization replaces the previous configuration.
func (m *Manager) SetOrgConfig(cfg OrgConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := orgKey(cfg.Channel, cfg.OrgID)
	existing := m.orgs[key]

	os := &orgState{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		os.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		os.active = existing.active
	}
	m.orgs[key] = os
}

// OrgActiveCount returns the current number of active deliveries for a
// channel+organization pair.
func (m *Manager) OrgActiveCount(channel job.StepType, orgID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if os := m.orgs[orgKey(channel, orgID)]; os != nil {
		return os.active
	}
	return 0
}
