package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

func TestFilterClause(t *testing.T) {
	t.Parallel()

	trxID := id.NewTransactionID()
	wfID := id.NewWorkflowID()
	subID := id.NewSubscriberID()

	t.Run("empty filter", func(t *testing.T) {
		t.Parallel()

		where, args := filterClause(job.Filter{})
		if where != "" {
			t.Fatalf("where = %q, want empty", where)
		}
		if args != nil {
			t.Fatalf("args = %v, want nil", args)
		}
	})

	t.Run("single condition", func(t *testing.T) {
		t.Parallel()

		where, args := filterClause(job.Filter{TransactionID: trxID})
		if where != " WHERE transaction_id = $1" {
			t.Fatalf("where = %q", where)
		}
		if len(args) != 1 || args[0] != trxID.String() {
			t.Fatalf("args = %v", args)
		}
	})

	t.Run("placeholders numbered in arg order", func(t *testing.T) {
		t.Parallel()

		where, args := filterClause(job.Filter{
			TransactionID: trxID,
			WorkflowID:    wfID,
			SubscriberID:  subID,
			Statuses:      []job.Status{job.StatusPending, job.StatusQueued},
			StepType:      job.StepEmail,
		})
		want := " WHERE transaction_id = $1 AND workflow_id = $2" +
			" AND subscriber_id = $3 AND status = ANY($4) AND step_type = $5"
		if where != want {
			t.Fatalf("where = %q, want %q", where, want)
		}
		if len(args) != 5 {
			t.Fatalf("args = %d, want 5", len(args))
		}
		statuses, ok := args[3].([]string)
		if !ok || len(statuses) != 2 || statuses[0] != "pending" || statuses[1] != "queued" {
			t.Fatalf("status arg = %v", args[3])
		}
		if args[4] != "email" {
			t.Fatalf("step type arg = %v", args[4])
		}
	})

	t.Run("limit and offset are not conditions", func(t *testing.T) {
		t.Parallel()

		where, args := filterClause(job.Filter{Limit: 10, Offset: 5})
		if where != "" || args != nil {
			t.Fatalf("where = %q args = %v, want empty", where, args)
		}
	})
}

func TestIsDuplicateKey(t *testing.T) {
	t.Parallel()

	uniqueViolation := &pgconn.PgError{Code: "23505"}
	if !isDuplicateKey(uniqueViolation) {
		t.Error("unique_violation not detected")
	}
	if !isDuplicateKey(fmt.Errorf("claim owner: %w", uniqueViolation)) {
		t.Error("wrapped unique_violation not detected")
	}
	if isDuplicateKey(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign_key_violation misreported as duplicate")
	}
	if isDuplicateKey(errors.New("duplicate key value")) {
		t.Error("plain error misreported as duplicate")
	}
	if isDuplicateKey(nil) {
		t.Error("nil misreported as duplicate")
	}
}

func TestIsNoRows(t *testing.T) {
	t.Parallel()

	if !isNoRows(pgx.ErrNoRows) {
		t.Error("pgx.ErrNoRows not detected")
	}
	if !isNoRows(fmt.Errorf("get job: %w", pgx.ErrNoRows)) {
		t.Error("wrapped pgx.ErrNoRows not detected")
	}
	if isNoRows(errors.New("no rows in result set")) {
		t.Error("plain error misreported as no rows")
	}
}

func TestMarshalDigest(t *testing.T) {
	t.Parallel()

	data, err := marshalDigest(nil)
	if err != nil || data != nil {
		t.Fatalf("marshalDigest(nil) = %v, %v", data, err)
	}

	d := &job.Digest{
		Unit:   job.UnitMinutes,
		Amount: 5,
		Type:   job.DigestBackoff,
		Events: []json.RawMessage{json.RawMessage(`{"n":1}`)},
	}
	data, err = marshalDigest(d)
	if err != nil {
		t.Fatalf("marshalDigest error: %v", err)
	}
	var got job.Digest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if got.Unit != d.Unit || got.Amount != d.Amount || got.Type != d.Type {
		t.Fatalf("got %+v", got)
	}
	if len(got.Events) != 1 || string(got.Events[0]) != `{"n":1}` {
		t.Fatalf("events = %v", got.Events)
	}
}

// TestMigrations pins the schema properties the atomic digest
// primitives rely on.
func TestMigrations(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	prev := ""
	for _, m := range migrations {
		if seen[m.name] {
			t.Errorf("duplicate migration name %q", m.name)
		}
		seen[m.name] = true
		if m.name <= prev {
			t.Errorf("migration %q out of order after %q", m.name, prev)
		}
		prev = m.name
		if strings.TrimSpace(m.sql) == "" {
			t.Errorf("migration %q has empty sql", m.name)
		}
	}

	jobs := migrations[0].sql
	// One delayed owner per window tuple, enforced by the database.
	if !strings.Contains(jobs, "CREATE UNIQUE INDEX IF NOT EXISTS idx_herald_jobs_open_window") {
		t.Error("jobs migration missing the open-window unique index")
	}
	if !strings.Contains(jobs, "WHERE status = 'delayed'") {
		t.Error("open-window index is not partial on delayed status")
	}
	for _, col := range []string{"rearm_entry", "digest_key_value", "transaction_id", "updated_at"} {
		if !strings.Contains(jobs, col) {
			t.Errorf("jobs migration missing column %q", col)
		}
	}

	dlq := migrations[1].sql
	if !strings.Contains(dlq, "herald_dlq") {
		t.Error("dlq migration missing table")
	}
	if !strings.Contains(dlq, "failed_at DESC") {
		t.Error("dlq migration missing newest-first index")
	}
}
