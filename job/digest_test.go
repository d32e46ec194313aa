package job

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDigestUnitDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		unit   DigestUnit
		amount int
		want   time.Duration
	}{
		{UnitSeconds, 30, 30 * time.Second},
		{UnitMinutes, 5, 5 * time.Minute},
		{UnitHours, 2, 2 * time.Hour},
		{UnitDays, 1, 24 * time.Hour},
		{DigestUnit("fortnights"), 3, 0},
	}

	for _, tt := range tests {
		if got := tt.unit.Duration(tt.amount); got != tt.want {
			t.Errorf("%s.Duration(%d) = %v, want %v", tt.unit, tt.amount, got, tt.want)
		}
	}
}

func TestDigestClone(t *testing.T) {
	t.Parallel()

	d := &Digest{
		Unit:   UnitMinutes,
		Amount: 10,
		Type:   DigestBackoff,
		Events: []json.RawMessage{json.RawMessage(`{"n":1}`)},
	}
	cp := d.Clone()
	cp.Events[0] = json.RawMessage(`{"n":2}`)
	cp.Events = append(cp.Events, json.RawMessage(`{"n":3}`))

	if string(d.Events[0]) != `{"n":1}` {
		t.Fatalf("clone mutated original event: %s", d.Events[0])
	}
	if len(d.Events) != 1 {
		t.Fatalf("clone mutated original length: %d", len(d.Events))
	}
}
