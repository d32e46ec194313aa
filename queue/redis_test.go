package queue

import (
	"strconv"
	"testing"
	"time"

	"github.com/xraph/herald/id"
)

func TestParseMember(t *testing.T) {
	t.Parallel()

	entryID := id.NewEntryID()
	jobID := id.NewJobID()
	member := entryID.String() + "|" + jobID.String()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ms := at.UnixMilli()

	t.Run("score encodings", func(t *testing.T) {
		t.Parallel()

		for _, score := range []any{
			strconv.FormatInt(ms, 10),
			int64(ms),
			float64(ms),
		} {
			e, err := parseMember(member, score)
			if err != nil {
				t.Fatalf("parseMember(%T score) error: %v", score, err)
			}
			if e.ID != entryID || e.JobID != jobID {
				t.Fatalf("entry = %+v", e)
			}
			if e.FireAt.IsZero() {
				t.Fatalf("fire time not decoded from %T score", score)
			}
		}

		e, _ := parseMember(member, int64(ms))
		if !e.FireAt.Equal(at) {
			t.Fatalf("fire at = %v, want %v", e.FireAt, at)
		}
	})

	t.Run("malformed members", func(t *testing.T) {
		t.Parallel()

		bad := []string{
			"no-separator",
			"not-an-entry-id|" + jobID.String(),
			entryID.String() + "|not-a-job-id",
			"",
		}
		for _, m := range bad {
			if _, err := parseMember(m, "0"); err == nil {
				t.Errorf("parseMember(%q) did not fail", m)
			}
		}
	})
}

func TestJobEntriesKey(t *testing.T) {
	t.Parallel()

	jobID := id.NewJobID()
	got := jobEntriesKey(jobID.String())
	want := "herald:job_entries:" + jobID.String()
	if got != want {
		t.Fatalf("key = %q, want %q", got, want)
	}
}
