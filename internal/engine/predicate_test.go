package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Stellara/internal/domain"
)

func TestEvaluatePredicate(t *testing.T) {
	ev := paymentEvent()

	tests := []struct {
		name     string
		pred     domain.TriggerPredicate
		expected bool
	}{
		{
			name:     "type only",
			pred:     domain.TriggerPredicate{EventType: "payment"},
			expected: true,
		},
		{
			name:     "other type",
			pred:     domain.TriggerPredicate{EventType: "create_account"},
			expected: false,
		},
		{
			name:     "wildcard type",
			pred:     domain.TriggerPredicate{EventType: "*"},
			expected: true,
		},
		{
			name: "eq string",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "to", Op: OpEq, Value: "GDEST"},
			}},
			expected: true,
		},
		{
			name: "eq nested",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "asset.code", Op: OpEq, Value: "XLM"},
			}},
			expected: false,
		},
		{
			name: "numeric string compared to number",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "amount", Op: OpEq, Value: 150},
			}},
			expected: true,
		},
		{
			name: "range",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "amount", Op: OpGte, Value: 100},
				{Field: "amount", Op: OpLt, Value: 200.5},
			}},
			expected: true,
		},
		{
			name: "range miss",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "amount", Op: OpGt, Value: 150},
			}},
			expected: false,
		},
		{
			name: "exists",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "asset.code", Op: OpExists},
				{Field: "memo_type", Op: OpNotExists},
			}},
			expected: true,
		},
		{
			name: "empty string exists",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "memo", Op: OpExists},
			}},
			expected: true,
		},
		{
			name: "empty string is not missing",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "memo", Op: OpNotExists},
			}},
			expected: false,
		},
		{
			name: "in",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "asset.code", Op: OpIn, Value: []any{"USDC", "EURC"}},
			}},
			expected: true,
		},
		{
			name: "prefix and contains",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "to", Op: OpPrefix, Value: "GD"},
				{Field: "to", Op: OpContains, Value: "EST"},
			}},
			expected: true,
		},
		{
			name: "missing field ne",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "memo_type", Op: OpNe, Value: "x"},
			}},
			expected: true,
		},
		{
			name: "non numeric payload in range",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "to", Op: OpGt, Value: 1},
			}},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluatePredicate(&tt.pred, ev)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestEvaluatePredicate_Malformed(t *testing.T) {
	ev := paymentEvent()

	tests := []struct {
		name    string
		pred    domain.TriggerPredicate
		wantErr error
	}{
		{
			name:    "empty event type",
			pred:    domain.TriggerPredicate{},
			wantErr: ErrEmptyEventType,
		},
		{
			name: "unknown op",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "amount", Op: "approx", Value: 1},
			}},
			wantErr: ErrUnknownOp,
		},
		{
			name: "range with string",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "amount", Op: OpGt, Value: "lots"},
			}},
			wantErr: ErrBadOperand,
		},
		{
			name: "in without list",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Field: "asset.code", Op: OpIn, Value: "USDC"},
			}},
			wantErr: ErrBadOperand,
		},
		{
			name: "empty field",
			pred: domain.TriggerPredicate{EventType: "payment", Conditions: []domain.Condition{
				{Op: OpExists},
			}},
			wantErr: ErrEmptyField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EvaluatePredicate(&tt.pred, ev)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	payload := map[string]any{"a": map[string]any{"b": map[string]any{"c": 1}}}

	if v, ok := Lookup(payload, "a.b.c"); !ok || v != 1 {
		t.Errorf("expected 1, got %v (%v)", v, ok)
	}
	if _, ok := Lookup(payload, "a.x"); ok {
		t.Error("missing path should not be found")
	}
	if _, ok := Lookup(payload, "a.b.c.d"); ok {
		t.Error("path through scalar should not be found")
	}
}
