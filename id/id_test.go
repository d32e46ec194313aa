package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/herald/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"JobID", id.NewJobID, "job_"},
		{"WorkflowID", id.NewWorkflowID, "wf_"},
		{"SubscriberID", id.NewSubscriberID, "sub_"},
		{"TransactionID", id.NewTransactionID, "trx_"},
		{"EntryID", id.NewEntryID, "qe_"},
		{"DLQID", id.NewDLQID, "dlq_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"JobID", id.NewJobID, id.ParseJobID},
		{"WorkflowID", id.NewWorkflowID, id.ParseWorkflowID},
		{"SubscriberID", id.NewSubscriberID, id.ParseSubscriberID},
		{"TransactionID", id.NewTransactionID, id.ParseTransactionID},
		{"EntryID", id.NewEntryID, id.ParseEntryID},
		{"DLQID", id.NewDLQID, id.ParseDLQID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	jobID := id.NewJobID().String()

	if _, err := id.ParseWorkflowID(jobID); err == nil {
		t.Errorf("ParseWorkflowID(%q) succeeded, want prefix error", jobID)
	}
	if _, err := id.ParseTransactionID(jobID); err == nil {
		t.Errorf("ParseTransactionID(%q) succeeded, want prefix error", jobID)
	}
}

func TestNilID(t *testing.T) {
	var nilID id.ID

	if !nilID.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if nilID.String() != "" {
		t.Errorf("nil ID String() = %q, want empty", nilID.String())
	}
	if _, err := id.Parse(""); err == nil {
		t.Error("Parse(\"\") succeeded, want error")
	}
}

func TestTextMarshalRoundTrip(t *testing.T) {
	original := id.NewJobID()

	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var decoded id.ID
	if err := decoded.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if decoded.String() != original.String() {
		t.Errorf("round-trip mismatch: %q != %q", decoded.String(), original.String())
	}
}
