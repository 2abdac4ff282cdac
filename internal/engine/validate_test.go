package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Stellara/internal/domain"
)

func validWorkflow() *domain.Workflow {
	wf := &domain.Workflow{
		Name:    "notify-on-payment",
		Trigger: domain.TriggerPredicate{EventType: "payment"},
		Steps: []domain.WorkflowStep{
			{Name: "wait", Type: "delay", Config: map[string]any{"duration_sec": 1}},
			{Name: "notify", Type: "http", Config: map[string]any{"url": "http://x"}},
		},
	}
	Normalize(wf)
	return wf
}

func TestValidate_Valid(t *testing.T) {
	if err := Validate(validWorkflow(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(wf *domain.Workflow)
		wantErr error
	}{
		{
			name:    "no steps",
			mutate:  func(wf *domain.Workflow) { wf.Steps = nil },
			wantErr: ErrEmptySteps,
		},
		{
			name:    "no name",
			mutate:  func(wf *domain.Workflow) { wf.Name = "" },
			wantErr: ErrEmptyName,
		},
		{
			name:    "bad trigger",
			mutate:  func(wf *domain.Workflow) { wf.Trigger.EventType = "" },
			wantErr: ErrEmptyEventType,
		},
		{
			name:    "duplicate step name",
			mutate:  func(wf *domain.Workflow) { wf.Steps[1].Name = "wait" },
			wantErr: ErrDuplicateStepName,
		},
		{
			name:    "unknown type",
			mutate:  func(wf *domain.Workflow) { wf.Steps[0].Type = "voice" },
			wantErr: ErrUnknownStepType,
		},
		{
			name:    "position gap",
			mutate:  func(wf *domain.Workflow) { wf.Steps[1].Position = 2 },
			wantErr: ErrPositionGap,
		},
		{
			name:    "bad condition",
			mutate:  func(wf *domain.Workflow) { wf.Steps[1].Condition = "{{ .Broken" },
			wantErr: ErrTemplateParse,
		},
		{
			name: "bad backoff",
			mutate: func(wf *domain.Workflow) {
				wf.Steps[0].Retry = &domain.RetryPolicy{Backoff: "random"}
			},
			wantErr: ErrInvalidRetry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := validWorkflow()
			tt.mutate(wf)
			err := Validate(wf, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_CustomTypes(t *testing.T) {
	wf := validWorkflow()
	wf.Steps[0].Type = "voice"

	known := func(tp string) bool { return tp == "voice" || tp == "http" }
	if err := Validate(wf, known); err != nil {
		t.Fatalf("custom type checker should accept voice: %v", err)
	}
}
