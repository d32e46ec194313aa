package workflow

import (
	"errors"
	"testing"

	"github.com/xraph/herald"
	"github.com/xraph/herald/job"
)

func sampleDefinition(identifier string) *Definition {
	return &Definition{
		Identifier: identifier,
		Active:     true,
		Steps: []Step{
			{Type: job.StepSMS, Content: "hello {{name}}"},
			{Type: job.StepDigest, Digest: &DigestMetadata{
				Unit:   job.UnitMinutes,
				Amount: 5,
				Type:   job.DigestRegular,
			}},
			{Type: job.StepEmail, Content: "digest for you"},
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	def := sampleDefinition("order-updates")
	if err := r.Register(def); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if def.ID.IsNil() {
		t.Fatal("Register did not assign an ID")
	}
	if def.Name != "order-updates" {
		t.Fatalf("Name = %q, want identifier default", def.Name)
	}

	got, err := r.Get("order-updates")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != def {
		t.Fatal("Get returned a different definition")
	}
}

func TestRegistryGetMissing(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Get("nope")
	if !errors.Is(err, herald.ErrWorkflowNotFound) {
		t.Fatalf("error = %v, want ErrWorkflowNotFound", err)
	}
}

func TestDefinitionValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		def     *Definition
		wantErr bool
	}{
		{"valid", sampleDefinition("ok"), false},
		{"missing identifier", &Definition{Steps: []Step{{Type: job.StepSMS}}}, true},
		{"no steps", &Definition{Identifier: "empty"}, true},
		{
			"digest without config",
			&Definition{Identifier: "d", Steps: []Step{{Type: job.StepDigest}}},
			true,
		},
		{
			"backoff digest without backoff amount",
			&Definition{Identifier: "b", Steps: []Step{{Type: job.StepDigest, Digest: &DigestMetadata{
				Unit: job.UnitSeconds, Amount: 30, Type: job.DigestBackoff,
			}}}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.def.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDigestStep(t *testing.T) {
	t.Parallel()

	def := sampleDefinition("x")
	i, s := def.DigestStep()
	if i != 1 || s == nil || s.Type != job.StepDigest {
		t.Fatalf("DigestStep() = (%d, %v), want index 1 digest step", i, s)
	}

	plain := &Definition{Identifier: "p", Steps: []Step{{Type: job.StepSMS}}}
	if i, s := plain.DigestStep(); i != -1 || s != nil {
		t.Fatalf("DigestStep() = (%d, %v), want (-1, nil)", i, s)
	}
}
