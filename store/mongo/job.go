package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	if _, err := s.db.Collection(colJobs).InsertOne(ctx, m); err != nil {
		if isDuplicateKey(err) {
			return herald.ErrJobAlreadyExists
		}
		return fmt.Errorf("herald/mongo: create job: %w", err)
	}
	return nil
}

// CreateJobs inserts a batch of jobs in one ordered insert.
func (s *Store) CreateJobs(ctx context.Context, jobs []*job.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	docs := make([]any, 0, len(jobs))
	for _, j := range jobs {
		docs = append(docs, toJobModel(j))
	}
	if _, err := s.db.Collection(colJobs).InsertMany(ctx, docs); err != nil {
		if isDuplicateKey(err) {
			return herald.ErrJobAlreadyExists
		}
		return fmt.Errorf("herald/mongo: create jobs: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, herald.ErrJobNotFound
		}
		return nil, fmt.Errorf("herald/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = now()
	res, err := s.db.Collection(colJobs).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("herald/mongo: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return herald.ErrJobNotFound
	}
	j.UpdatedAt = m.UpdatedAt
	return nil
}

// ListJobs returns jobs matching the filter, ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}

	cur, err := s.db.Collection(colJobs).Find(ctx, jobFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: list jobs: %w", err)
	}
	defer cur.Close(ctx)

	var jobs []*job.Job
	for cur.Next(ctx) {
		var m jobModel
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("herald/mongo: list jobs decode: %w", err)
		}
		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("herald/mongo: list jobs cursor: %w", err)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the filter.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	n, err := s.db.Collection(colJobs).CountDocuments(ctx, jobFilter(f))
	if err != nil {
		return 0, fmt.Errorf("herald/mongo: count jobs: %w", err)
	}
	return n, nil
}

// TransitionStatus atomically moves the job to the given status when
// its current status is one of from.
func (s *Store) TransitionStatus(ctx context.Context, jobID id.JobID, to job.Status, from ...job.Status) (*job.Job, error) {
	allowed := make([]string, 0, len(from))
	for _, f := range from {
		if job.CanTransition(f, to) {
			allowed = append(allowed, string(f))
		}
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("herald/mongo: transition %s to %s: %w", jobID, to, herald.ErrInvalidTransition)
	}

	filter := bson.M{
		"_id":    jobID.String(),
		"status": bson.M{"$in": allowed},
	}
	update := bson.M{"$set": bson.M{
		"status":     string(to),
		"updated_at": now(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m jobModel
	err := s.db.Collection(colJobs).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			// Distinguish a missing job from a lost CAS race.
			if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("herald/mongo: transition %s to %s: %w", jobID, to, herald.ErrInvalidTransition)
		}
		if isDuplicateKey(err) {
			return nil, herald.ErrWindowConflict
		}
		return nil, fmt.Errorf("herald/mongo: transition %s to %s: %w", jobID, to, err)
	}
	return fromJobModel(&m)
}

// MergeDigestEvent atomically appends event to the open delayed window
// for the tuple. The delayed-status guard in the filter is what makes
// the merge lossless: a window that closed between the caller's check
// and this write simply does not match, and the caller retries.
func (s *Store) MergeDigestEvent(ctx context.Context, t job.WindowTuple, event json.RawMessage) (*job.Job, error) {
	filter := bson.M{
		"workflow_id":      t.WorkflowID.String(),
		"subscriber_id":    t.SubscriberID.String(),
		"digest_key_value": t.DigestKeyValue,
		"step_type":        string(job.StepDigest),
		"status":           string(job.StatusDelayed),
	}
	update := bson.M{
		"$push": bson.M{"digest.events": []byte(event)},
		"$set":  bson.M{"updated_at": now()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m jobModel
	err := s.db.Collection(colJobs).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, herald.ErrNoOpenWindow
		}
		return nil, fmt.Errorf("herald/mongo: merge digest event: %w", err)
	}
	return fromJobModel(&m)
}

// ClaimDigestOwner promotes a pending digest job to delayed window
// owner. The partial unique index on the window tuple turns a
// concurrent second claim into a duplicate key error.
func (s *Store) ClaimDigestOwner(ctx context.Context, jobID id.JobID, digestKeyValue string) (*job.Job, error) {
	filter := bson.M{
		"_id":    jobID.String(),
		"status": string(job.StatusPending),
	}
	update := bson.M{"$set": bson.M{
		"status":           string(job.StatusDelayed),
		"digest_key_value": digestKeyValue,
		"updated_at":       now(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m jobModel
	err := s.db.Collection(colJobs).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, herald.ErrWindowConflict
		}
		if isNoDocuments(err) {
			if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("herald/mongo: claim owner %s: %w", jobID, herald.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("herald/mongo: claim owner %s: %w", jobID, err)
	}
	return fromJobModel(&m)
}

// SetReArmEntry records the owner's active backoff re-arm queue entry.
// Only the bookkeeping field is written, so a merge serialized around
// this update keeps every appended event.
func (s *Store) SetReArmEntry(ctx context.Context, jobID id.JobID, entryID string) error {
	update := bson.M{"$set": bson.M{
		"rearm_entry": entryID,
		"updated_at":  now(),
	}}
	res, err := s.db.Collection(colJobs).UpdateOne(ctx, bson.M{"_id": jobID.String()}, update)
	if err != nil {
		return fmt.Errorf("herald/mongo: set re-arm entry: %w", err)
	}
	if res.MatchedCount == 0 {
		return herald.ErrJobNotFound
	}
	return nil
}

// FindDelayedByTransaction returns the delayed digest job created by
// the given trigger transaction.
func (s *Store) FindDelayedByTransaction(ctx context.Context, trxID id.TransactionID) (*job.Job, error) {
	filter := bson.M{
		"transaction_id": trxID.String(),
		"step_type":      string(job.StepDigest),
		"status":         string(job.StatusDelayed),
	}
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, filter).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, herald.ErrJobNotFound
		}
		return nil, fmt.Errorf("herald/mongo: find delayed by transaction: %w", err)
	}
	return fromJobModel(&m)
}

// StuckJobs returns queued jobs whose last update is older than the
// cutoff.
func (s *Store) StuckJobs(ctx context.Context, olderThan time.Time, limit int) ([]*job.Job, error) {
	filter := bson.M{
		"status":     string(job.StatusQueued),
		"updated_at": bson.M{"$lt": olderThan},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.db.Collection(colJobs).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: stuck jobs: %w", err)
	}
	defer cur.Close(ctx)

	var jobs []*job.Job
	for cur.Next(ctx) {
		var m jobModel
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("herald/mongo: stuck jobs decode: %w", err)
		}
		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, cur.Err()
}

// jobFilter translates a job.Filter into a MongoDB filter document.
func jobFilter(f job.Filter) bson.M {
	filter := bson.M{}
	if !f.TransactionID.IsNil() {
		filter["transaction_id"] = f.TransactionID.String()
	}
	if !f.WorkflowID.IsNil() {
		filter["workflow_id"] = f.WorkflowID.String()
	}
	if !f.SubscriberID.IsNil() {
		filter["subscriber_id"] = f.SubscriberID.String()
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		filter["status"] = bson.M{"$in": statuses}
	}
	if f.StepType != "" {
		filter["step_type"] = string(f.StepType)
	}
	return filter
}
