package herald

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds engine-wide configuration.
type Config struct {
	// Workers is the number of concurrent consumers draining the delay queue.
	Workers int `env:"HERALD_WORKERS"`

	// PollInterval is how often queue backends that poll (Redis) check for
	// due entries.
	PollInterval time.Duration `env:"HERALD_POLL_INTERVAL"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `env:"HERALD_SHUTDOWN_TIMEOUT"`

	// ResolverMaxAttempts bounds the retries of the digest window resolver
	// when the atomic claim/merge reports a write conflict.
	ResolverMaxAttempts int `env:"HERALD_RESOLVER_MAX_ATTEMPTS"`

	// SweepInterval is how often the reconciliation sweeper looks for jobs
	// stranded by a delay-queue outage. Zero disables the sweeper.
	SweepInterval time.Duration `env:"HERALD_SWEEP_INTERVAL"`

	// SweepThreshold is how long a job may sit in QUEUED without firing
	// before the sweeper re-enqueues it.
	SweepThreshold time.Duration `env:"HERALD_SWEEP_THRESHOLD"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:             10,
		PollInterval:        250 * time.Millisecond,
		ShutdownTimeout:     30 * time.Second,
		ResolverMaxAttempts: 5,
		SweepInterval:       time.Minute,
		SweepThreshold:      5 * time.Minute,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by HERALD_* environment
// variables.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("herald: parse config from env: %w", err)
	}
	return cfg, nil
}
