// Package store defines the aggregate persistence interface. Each
// subsystem (job, dlq) defines its own store interface; the composite
// Store composes them. Backends: Memory, Mongo, and Postgres.
package store

import (
	"context"

	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/job"
)

// Store is the aggregate persistence interface. A single backend
// implements all subsystem stores.
type Store interface {
	job.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
}
