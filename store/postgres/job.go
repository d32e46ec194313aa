package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

const jobColumns = `
	id, transaction_id, workflow, workflow_id, environment_id, organization_id,
	subscriber_id, step_index, step_type, content, status, payload, digest,
	digest_key_value, rearm_entry, last_error, provider_message_id,
	created_at, updated_at`

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	digest, err := marshalDigest(j.Digest)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO herald_jobs (
			id, transaction_id, workflow, workflow_id, environment_id, organization_id,
			subscriber_id, step_index, step_type, content, status, payload, digest,
			digest_key_value, rearm_entry, last_error, provider_message_id,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19
		)`,
		j.ID.String(), j.TransactionID.String(), j.Workflow, j.WorkflowID.String(),
		j.EnvironmentID, j.OrganizationID,
		j.SubscriberID.String(), j.StepIndex, string(j.StepType), j.Content,
		string(j.Status), []byte(j.Payload), digest,
		j.DigestKeyValue, j.ReArmEntry, j.LastError, j.ProviderMessageID,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return herald.ErrJobAlreadyExists
		}
		return fmt.Errorf("herald/postgres: create job: %w", err)
	}
	return nil
}

// CreateJobs inserts a batch of jobs in one transaction.
func (s *Store) CreateJobs(ctx context.Context, jobs []*job.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: create jobs: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, j := range jobs {
		digest, mErr := marshalDigest(j.Digest)
		if mErr != nil {
			return mErr
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO herald_jobs (
				id, transaction_id, workflow, workflow_id, environment_id, organization_id,
				subscriber_id, step_index, step_type, content, status, payload, digest,
				digest_key_value, rearm_entry, last_error, provider_message_id,
				created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6,
				$7, $8, $9, $10, $11, $12, $13,
				$14, $15, $16, $17,
				$18, $19
			)`,
			j.ID.String(), j.TransactionID.String(), j.Workflow, j.WorkflowID.String(),
			j.EnvironmentID, j.OrganizationID,
			j.SubscriberID.String(), j.StepIndex, string(j.StepType), j.Content,
			string(j.Status), []byte(j.Payload), digest,
			j.DigestKeyValue, j.ReArmEntry, j.LastError, j.ProviderMessageID,
			j.CreatedAt, j.UpdatedAt,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return herald.ErrJobAlreadyExists
			}
			return fmt.Errorf("herald/postgres: create jobs: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM herald_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrJobNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	digest, err := marshalDigest(j.Digest)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE herald_jobs SET
			workflow = $2, environment_id = $3, organization_id = $4,
			step_index = $5, step_type = $6, content = $7, status = $8,
			payload = $9, digest = $10, digest_key_value = $11,
			rearm_entry = $12, last_error = $13, provider_message_id = $14,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(),
		j.Workflow, j.EnvironmentID, j.OrganizationID,
		j.StepIndex, string(j.StepType), j.Content, string(j.Status),
		[]byte(j.Payload), digest, j.DigestKeyValue,
		j.ReArmEntry, j.LastError, j.ProviderMessageID,
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs matching the filter, ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	where, args := filterClause(f)
	query := `SELECT ` + jobColumns + ` FROM herald_jobs` + where +
		` ORDER BY created_at ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the filter.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	where, args := filterClause(f)
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM herald_jobs`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("herald/postgres: count jobs: %w", err)
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
		return nil, fmt.Errorf("herald/postgres: transition %s to %s: %w", jobID, to, herald.ErrInvalidTransition)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE herald_jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+jobColumns,
		jobID.String(), string(to), allowed,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("herald/postgres: transition %s to %s: %w", jobID, to, herald.ErrInvalidTransition)
		}
		if isDuplicateKey(err) {
			return nil, herald.ErrWindowConflict
		}
		return nil, fmt.Errorf("herald/postgres: transition %s to %s: %w", jobID, to, err)
	}
	return j, nil
}

// MergeDigestEvent atomically appends event to the open delayed window
// for the tuple. The status guard makes the append lossless: a window
// that closed concurrently does not match and the caller retries.
func (s *Store) MergeDigestEvent(ctx context.Context, t job.WindowTuple, event json.RawMessage) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE herald_jobs
		SET digest = jsonb_set(
				digest, '{events}',
				COALESCE(digest->'events', '[]'::jsonb) || jsonb_build_array($4::jsonb)
			),
			updated_at = NOW()
		WHERE workflow_id = $1
		  AND subscriber_id = $2
		  AND digest_key_value = $3
		  AND step_type = 'digest'
		  AND status = 'delayed'
		RETURNING `+jobColumns,
		t.WorkflowID.String(), t.SubscriberID.String(), t.DigestKeyValue, []byte(event),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrNoOpenWindow
		}
		return nil, fmt.Errorf("herald/postgres: merge digest event: %w", err)
	}
	return j, nil
}

// ClaimDigestOwner promotes a pending digest job to delayed window
// owner. The partial unique index turns a concurrent second claim into
// a unique_violation.
func (s *Store) ClaimDigestOwner(ctx context.Context, jobID id.JobID, digestKeyValue string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE herald_jobs
		SET status = 'delayed', digest_key_value = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+jobColumns,
		jobID.String(), digestKeyValue,
	)
	j, err := scanJob(row)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, herald.ErrWindowConflict
		}
		if isNoRows(err) {
			if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("herald/postgres: claim owner %s: %w", jobID, herald.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("herald/postgres: claim owner %s: %w", jobID, err)
	}
	return j, nil
}

// SetReArmEntry records the owner's active backoff re-arm queue entry.
// Only the bookkeeping column is written, so a merge serialized around
// this update keeps every appended event.
func (s *Store) SetReArmEntry(ctx context.Context, jobID id.JobID, entryID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE herald_jobs
		SET rearm_entry = $2, updated_at = NOW()
		WHERE id = $1`,
		jobID.String(), entryID,
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: set re-arm entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrJobNotFound
	}
	return nil
}

// FindDelayedByTransaction returns the delayed digest job created by
// the given trigger transaction.
func (s *Store) FindDelayedByTransaction(ctx context.Context, trxID id.TransactionID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM herald_jobs
		WHERE transaction_id = $1 AND step_type = 'digest' AND status = 'delayed'`,
		trxID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrJobNotFound
		}
		return nil, fmt.Errorf("herald/postgres: find delayed by transaction: %w", err)
	}
	return j, nil
}

// StuckJobs returns queued jobs whose last update is older than the
// cutoff.
func (s *Store) StuckJobs(ctx context.Context, olderThan time.Time, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM herald_jobs
		WHERE status = 'queued' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: stuck jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ── scan helpers ─────────────────────────────────────────────────

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		jobID, trxID, wfID, subID                 string
		workflow, envID, orgID, stepType, content string
		status, digestKeyValue, rearmEntry        string
		lastError, providerMessageID              string
		stepIndex                                 int
		payload, digest                           []byte
		createdAt, updatedAt                      time.Time
	)
	err := row.Scan(
		&jobID, &trxID, &workflow, &wfID, &envID, &orgID,
		&subID, &stepIndex, &stepType, &content, &status, &payload, &digest,
		&digestKeyValue, &rearmEntry, &lastError, &providerMessageID,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedJobID, err := id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: parse job id %q: %w", jobID, err)
	}
	parsedTrxID, err := id.ParseTransactionID(trxID)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: parse transaction id %q: %w", trxID, err)
	}
	parsedWfID, err := id.ParseWorkflowID(wfID)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: parse workflow id %q: %w", wfID, err)
	}
	parsedSubID, err := id.ParseSubscriberID(subID)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: parse subscriber id %q: %w", subID, err)
	}

	j := &job.Job{
		Entity: herald.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:                parsedJobID,
		TransactionID:     parsedTrxID,
		Workflow:          workflow,
		WorkflowID:        parsedWfID,
		EnvironmentID:     envID,
		OrganizationID:    orgID,
		SubscriberID:      parsedSubID,
		StepIndex:         stepIndex,
		StepType:          job.StepType(stepType),
		Content:           content,
		Status:            job.Status(status),
		Payload:           payload,
		DigestKeyValue:    digestKeyValue,
		ReArmEntry:        rearmEntry,
		LastError:         lastError,
		ProviderMessageID: providerMessageID,
	}
	if len(digest) > 0 {
		var d job.Digest
		if err := json.Unmarshal(digest, &d); err != nil {
			return nil, fmt.Errorf("herald/postgres: decode digest: %w", err)
		}
		j.Digest = &d
	}
	return j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("herald/postgres: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("herald/postgres: iterate jobs: %w", err)
	}
	return jobs, nil
}

// filterClause builds the WHERE fragment for a job.Filter.
func filterClause(f job.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if !f.TransactionID.IsNil() {
		add("transaction_id = $%d", f.TransactionID.String())
	}
	if !f.WorkflowID.IsNil() {
		add("workflow_id = $%d", f.WorkflowID.String())
	}
	if !f.SubscriberID.IsNil() {
		add("subscriber_id = $%d", f.SubscriberID.String())
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		add("status = ANY($%d)", statuses)
	}
	if f.StepType != "" {
		add("step_type = $%d", string(f.StepType))
	}

	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

func marshalDigest(d *job.Digest) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: encode digest: %w", err)
	}
	return data, nil
}
