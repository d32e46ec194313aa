package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

const dlqColumns = `
	id, job_id, transaction_id, workflow, subscriber_id, step_index, step_type,
	content, payload, digest_events, environment_id, organization_id,
	error, failed_at, replayed_at, created_at`

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	var events []byte
	if len(entry.DigestEvents) > 0 {
		data, err := json.Marshal(entry.DigestEvents)
		if err != nil {
			return fmt.Errorf("herald/postgres: encode dlq events: %w", err)
		}
		events = data
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO herald_dlq (
			id, job_id, transaction_id, workflow, subscriber_id, step_index, step_type,
			content, payload, digest_events, environment_id, organization_id,
			error, failed_at, replayed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16
		)`,
		entry.ID.String(), entry.JobID.String(), entry.TransactionID.String(),
		entry.Workflow, entry.SubscriberID.String(), entry.StepIndex, string(entry.StepType),
		entry.Content, []byte(entry.Payload), events, entry.EnvironmentID, entry.OrganizationID,
		entry.Error, entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries, newest failures first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM herald_dlq`
	var args []any
	if opts.Workflow != "" {
		args = append(args, opts.Workflow)
		query += ` WHERE workflow = $1`
	}
	query += ` ORDER BY failed_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("herald/postgres: iterate dlq: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM herald_dlq WHERE id = $1`,
		entryID.String(),
	)
	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrDLQNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE herald_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM herald_dlq WHERE failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("herald/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of dead letter entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM herald_dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("herald/postgres: count dlq: %w", err)
	}
	return n, nil
}

func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		entryID, jobID, trxID, subID string
		workflow, stepType, content  string
		envID, orgID, errMsg         string
		stepIndex                    int
		payload, events              []byte
		failedAt, createdAt          time.Time
		replayedAt                   *time.Time
	)
	err := row.Scan(
		&entryID, &jobID, &trxID, &workflow, &subID, &stepIndex, &stepType,
		&content, &payload, &events, &envID, &orgID,
		&errMsg, &failedAt, &replayedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseDLQID(entryID)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: parse dlq id %q: %w", entryID, err)
	}
	parsedJobID, err := id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: parse dlq job id %q: %w", jobID, err)
	}
	parsedTrxID, err := id.ParseTransactionID(trxID)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: parse dlq transaction id %q: %w", trxID, err)
	}
	parsedSubID, err := id.ParseSubscriberID(subID)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: parse dlq subscriber id %q: %w", subID, err)
	}

	e := &dlq.Entry{
		ID:             parsedID,
		JobID:          parsedJobID,
		TransactionID:  parsedTrxID,
		Workflow:       workflow,
		SubscriberID:   parsedSubID,
		StepIndex:      stepIndex,
		StepType:       job.StepType(stepType),
		Content:        content,
		Payload:        payload,
		EnvironmentID:  envID,
		OrganizationID: orgID,
		Error:          errMsg,
		FailedAt:       failedAt,
		ReplayedAt:     replayedAt,
		CreatedAt:      createdAt,
	}
	if len(events) > 0 {
		if err := json.Unmarshal(events, &e.DigestEvents); err != nil {
			return nil, fmt.Errorf("herald/postgres: decode dlq events: %w", err)
		}
	}
	return e, nil
}
