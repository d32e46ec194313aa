package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/id"
)

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	if _, err := s.db.Collection(colDLQ).InsertOne(ctx, toDLQModel(entry)); err != nil {
		return fmt.Errorf("herald/mongo: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries, newest failures first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	filter := bson.M{}
	if opts.Workflow != "" {
		filter["workflow"] = opts.Workflow
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "failed_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.db.Collection(colDLQ).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: list dlq: %w", err)
	}
	defer cur.Close(ctx)

	var entries []*dlq.Entry
	for cur.Next(ctx) {
		var m dlqModel
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("herald/mongo: list dlq decode: %w", err)
		}
		e, convErr := fromDLQModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		entries = append(entries, e)
	}
	return entries, cur.Err()
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	var m dlqModel
	err := s.db.Collection(colDLQ).FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, herald.ErrDLQNotFound
		}
		return nil, fmt.Errorf("herald/mongo: get dlq: %w", err)
	}
	return fromDLQModel(&m)
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	update := bson.M{"$set": bson.M{"replayed_at": now()}}
	res, err := s.db.Collection(colDLQ).UpdateOne(ctx, bson.M{"_id": entryID.String()}, update)
	if err != nil {
		return fmt.Errorf("herald/mongo: replay dlq: %w", err)
	}
	if res.MatchedCount == 0 {
		return herald.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Collection(colDLQ).DeleteMany(ctx, bson.M{"failed_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("herald/mongo: purge dlq: %w", err)
	}
	return res.DeletedCount, nil
}

// CountDLQ returns the total number of dead letter entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.db.Collection(colDLQ).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("herald/mongo: count dlq: %w", err)
	}
	return n, nil
}
