package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/job"
)

// Collection name constants.
const (
	colJobs = "herald_jobs"
	colDLQ  = "herald_dlq"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Store implements the herald stores on a MongoDB database. The caller
// owns the client lifecycle; Store never closes it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a MongoDB store on the given database handle.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the underlying database handle for advanced usage.
func (s *Store) Database() *mongod.Database { return s.db }

// Migrate creates the indexes for all herald collections. The partial
// unique index on the window tuple is what makes ClaimDigestOwner safe
// under concurrency: a second claim for the same tuple hits a duplicate
// key error instead of producing a second delayed owner.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("herald/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close(_ context.Context) error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}

// migrationIndexes returns the index definitions for all herald collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			// Window ownership: at most one delayed job per tuple.
			{
				Keys: bson.D{
					{Key: "workflow_id", Value: 1},
					{Key: "subscriber_id", Value: 1},
					{Key: "digest_key_value", Value: 1},
				},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"status": string(job.StatusDelayed)}),
			},
			// Transaction lookups for scheduling and cancel.
			{Keys: bson.D{
				{Key: "transaction_id", Value: 1},
				{Key: "subscriber_id", Value: 1},
			}},
			// Stuck job scan.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "updated_at", Value: 1},
			}},
		},
		colDLQ: {
			{Keys: bson.D{
				{Key: "workflow", Value: 1},
				{Key: "failed_at", Value: -1},
			}},
		},
	}
}
