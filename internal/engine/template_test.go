package engine

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/Stellara/internal/domain"
)

func paymentEvent() *domain.LedgerEvent {
	return &domain.LedgerEvent{
		ID:       "123-1",
		Type:     "payment",
		Sequence: 123,
		Payload: map[string]any{
			"amount": "150.0000000",
			"to":     "GDEST",
			"memo":   "",
			"asset":  map[string]any{"code": "USDC"},
		},
	}
}

func TestNewContext_NilEvent(t *testing.T) {
	ctx := NewContext(nil)
	if ctx.Event.Payload == nil || ctx.Steps == nil || ctx.Env == nil {
		t.Errorf("maps must be initialised: %+v", ctx)
	}
}

func TestForWorkflow(t *testing.T) {
	wf := &domain.Workflow{
		ID:      uuid.New(),
		Name:    "payout hook",
		OwnerID: "GOWNER",
		Steps: []domain.WorkflowStep{
			{Name: "a", Status: domain.StepStatusSucceeded, Result: map[string]any{"x": 1}},
			{Name: "b", Status: domain.StepStatusSkipped},
			{Name: "c", Status: domain.StepStatusPending},
			{Name: "d", Status: domain.StepStatusFailed, Result: map[string]any{"x": 2}},
		},
	}

	ctx := ForWorkflow(paymentEvent(), wf)

	if ctx.Workflow.Name != "payout hook" || ctx.Workflow.ID != wf.ID.String() {
		t.Errorf("workflow context = %+v", ctx.Workflow)
	}
	if ctx.Steps["a"] == nil || ctx.Steps["a"].Outputs["x"] != 1 {
		t.Error("succeeded step should be in context")
	}
	if ctx.Steps["b"] == nil || ctx.Steps["b"].Status != "SKIPPED" || ctx.Steps["b"].Outputs == nil {
		t.Error("skipped step should be in context with empty outputs")
	}
	for _, name := range []string{"c", "d"} {
		if _, ok := ctx.Steps[name]; ok {
			t.Errorf("step %s should not be in context", name)
		}
	}
}

func TestRender(t *testing.T) {
	ctx := ForWorkflow(paymentEvent(), &domain.Workflow{Name: "hook"})
	ctx.AddStepResult("fetch", map[string]any{"data": map[string]any{"count": 3}}, "SUCCEEDED")
	ctx.SetEnv("REGION", "eu")

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"plain text", "Plain text", "Plain text"},
		{"payload field", "to={{ .Event.Payload.to }}", "to=GDEST"},
		{"nested payload", "{{ .Event.Payload.asset.code }}", "USDC"},
		{"sequence", "{{ .Event.Sequence }}", "123"},
		{"workflow name", "{{ .Workflow.Name }}", "hook"},
		{"step output", "{{ .Steps.fetch.Status }}/{{ .Steps.fetch.Outputs.data.count }}", "SUCCEEDED/3"},
		{"env", "{{ .Env.REGION }}", "eu"},
		{"lookup", `{{ lookup "asset.code" .Event.Payload }}`, "USDC"},
		{"num", `{{ if gt (num .Event.Payload.amount) 100.0 }}big{{ end }}`, "big"},
		{"stroops", "{{ stroops .Event.Payload.amount }}", "1500000000"},
		{"default on empty", `{{ default "none" .Event.Payload.memo }}`, "none"},
		{"coalesce", `{{ coalesce .Event.Payload.memo .Event.Payload.to }}`, "GDEST"},
		{"json", "{{ json .Event.Payload.asset }}", `{"code":"USDC"}`},
		{"string funcs", `{{ lower .Event.Payload.asset.code | upper }}`, "USDC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.src, ctx)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender_Errors(t *testing.T) {
	ctx := NewContext(paymentEvent())

	if _, err := Render("{{ .Invalid syntax", ctx); !errors.Is(err, ErrTemplateParse) {
		t.Errorf("parse error = %v, want ErrTemplateParse", err)
	}
	// Повторный вызов с тем же источником берёт шаблон из кэша
	if _, err := Render("{{ stroops .Event.Payload.to }}", ctx); !errors.Is(err, ErrTemplateRender) {
		t.Errorf("render error = %v, want ErrTemplateRender", err)
	}
	if _, err := Render("{{ stroops .Event.Payload.to }}", ctx); !errors.Is(err, ErrTemplateRender) {
		t.Errorf("cached render error = %v, want ErrTemplateRender", err)
	}
}

func TestToStroops(t *testing.T) {
	tests := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{in: "1", want: 10_000_000},
		{in: "12.5", want: 125_000_000},
		{in: "0.0000001", want: 1},
		{in: ".5", want: 5_000_000},
		{in: "-2.25", want: -22_500_000},
		{in: 3, want: 30_000_000},
		{in: "0.00000001", wantErr: true},
		{in: "1.-5", wantErr: true},
		{in: "GABC", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := toStroops(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("toStroops(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("toStroops(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRenderConfig(t *testing.T) {
	ctx := NewContext(paymentEvent())

	result, err := RenderConfig(map[string]any{
		"url":     "https://hooks.example.com/{{ .Event.Payload.to }}",
		"timeout": 30,
		"headers": map[string]any{"X-Event": "{{ .Event.ID }}"},
		"tags":    []any{"{{ .Event.Type }}", "static"},
		"labels":  map[string]string{"asset": "{{ .Event.Payload.asset.code }}"},
	}, ctx)
	if err != nil {
		t.Fatalf("RenderConfig() error = %v", err)
	}

	if result["url"] != "https://hooks.example.com/GDEST" {
		t.Errorf("url = %v", result["url"])
	}
	if result["timeout"] != 30 {
		t.Errorf("non-string values should pass through: %v", result["timeout"])
	}
	if result["headers"].(map[string]any)["X-Event"] != "123-1" {
		t.Errorf("headers = %v", result["headers"])
	}
	if result["tags"].([]any)[0] != "payment" {
		t.Errorf("tags = %v", result["tags"])
	}
	if result["labels"].(map[string]string)["asset"] != "USDC" {
		t.Errorf("labels = %v", result["labels"])
	}

	empty, err := RenderConfig(nil, ctx)
	if err != nil || empty == nil {
		t.Errorf("RenderConfig(nil) = %v, %v; want empty map", empty, err)
	}

	if _, err := RenderConfig(map[string]any{"bad": []any{"{{ .X"}}, ctx); !errors.Is(err, ErrTemplateParse) {
		t.Errorf("nested parse error = %v", err)
	}
}

func TestRenderCondition(t *testing.T) {
	ctx := NewContext(paymentEvent())
	ctx.AddStepResult("check", map[string]any{"is_valid": true}, "SUCCEEDED")

	tests := []struct {
		condition string
		want      bool
	}{
		{"", true},
		{"   ", true},
		{".Steps.check.Outputs.is_valid", true},
		{`eq .Event.Payload.to "GDEST"`, true},
		{`gt (num .Event.Payload.amount) 1000.0`, false},
		{`eq .Steps.check.Status "FAILED"`, false},
	}
	for _, tt := range tests {
		got, err := RenderCondition(tt.condition, ctx)
		if err != nil {
			t.Fatalf("RenderCondition(%q) error = %v", tt.condition, err)
		}
		if got != tt.want {
			t.Errorf("RenderCondition(%q) = %v, want %v", tt.condition, got, tt.want)
		}
	}
}
