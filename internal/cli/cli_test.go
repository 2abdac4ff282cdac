package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Stellara/internal/auth"
	"github.com/shaiso/Stellara/internal/backoff"
	"github.com/shaiso/Stellara/internal/domain"
	"github.com/shaiso/Stellara/internal/orchestrator"
	"github.com/shaiso/Stellara/internal/queue"
	"github.com/shaiso/Stellara/internal/repo/memrepo"
	"github.com/spf13/cobra"
)

const definitionYAML = `
name: notify on payment
trigger:
  event_type: payment
  conditions:
    - field: asset
      op: eq
      value: XLM
retry:
  max_attempts: 1
steps:
  - name: wait
    type: delay
    config:
      duration: 1ms
  - name: shape
    type: transform
    config:
      mappings:
        amount: "{{ .Event.Payload.amount }}"
`

type testEnv struct {
	store    *memrepo.Store
	orch     *orchestrator.Orchestrator
	queue    *queue.Queue
	migrated bool
}

func newTestEnv() *testEnv {
	store := memrepo.New()
	env := &testEnv{
		store: store,
		queue: queue.New(queue.Config{Store: store, Visibility: 30 * time.Second}),
		orch: orchestrator.New(orchestrator.Config{
			Store:        store,
			Users:        auth.ContextResolver{},
			InfraBackoff: backoff.Fixed{},
		}),
	}
	return env
}

func (e *testEnv) backend(context.Context) (*Backend, error) {
	return &Backend{
		Workflows:   e.orch,
		DeadLetters: e.store,
		Cursors:     e.store,
		Migrate: func(context.Context) error {
			e.migrated = true
			return nil
		},
	}, nil
}

// run выполняет команду CLI и возвращает stdout и stderr.
func (e *testEnv) run(t *testing.T, jsonMode bool, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	outputFn := func() *Output { return NewOutputTo(jsonMode, &stdout, &stderr) }

	root := &cobra.Command{Use: "stellara", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(
		NewWorkflowCmd(e.backend, outputFn),
		NewDLQCmd(e.backend, outputFn),
		NewCursorCmd(e.backend, outputFn),
		NewMigrateCmd(e.backend, outputFn),
	)
	root.SetArgs(args)
	root.SetOut(&stderr)
	root.SetErr(&stderr)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeDefinition(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	if err := os.WriteFile(path, []byte(definitionYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefinition(t *testing.T) {
	wf, err := LoadDefinition(writeDefinition(t))
	if err != nil {
		t.Fatalf("LoadDefinition() error = %v", err)
	}

	if wf.Name != "notify on payment" {
		t.Errorf("Name = %q", wf.Name)
	}
	if wf.Trigger.EventType != "payment" || len(wf.Trigger.Conditions) != 1 {
		t.Errorf("unexpected trigger: %+v", wf.Trigger)
	}
	if wf.Retry == nil || wf.Retry.MaxAttempts != 1 {
		t.Errorf("unexpected retry: %+v", wf.Retry)
	}
	if len(wf.Steps) != 2 || wf.Steps[1].Type != "transform" {
		t.Fatalf("unexpected steps: %+v", wf.Steps)
	}
	if _, ok := wf.Steps[1].Config["mappings"].(map[string]any); !ok {
		t.Errorf("mappings should decode as map, got %T", wf.Steps[1].Config["mappings"])
	}
}

func TestLoadDefinition_Errors(t *testing.T) {
	if _, err := LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("steps: [unclosed"), 0o600)
	if _, err := LoadDefinition(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestWorkflowCreate_PublishAndList(t *testing.T) {
	env := newTestEnv()

	stdout, stderr, err := env.run(t, true, "workflow", "create", "-f", writeDefinition(t), "--owner", "GALICE", "--publish")
	if err != nil {
		t.Fatalf("create error = %v", err)
	}
	if !strings.Contains(stderr, "Workflow published") {
		t.Errorf("stderr = %q", stderr)
	}

	var created domain.Workflow
	if err := json.Unmarshal([]byte(stdout), &created); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, stdout)
	}
	if created.OwnerID != "GALICE" || created.Status != domain.WorkflowStatusActive {
		t.Errorf("unexpected workflow: owner=%q status=%s", created.OwnerID, created.Status)
	}

	stdout, _, err = env.run(t, true, "workflow", "list", "--owner", "GALICE")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	var listed []domain.Workflow
	if err := json.Unmarshal([]byte(stdout), &listed); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Errorf("list = %+v", listed)
	}

	stdout, _, _ = env.run(t, true, "workflow", "list", "--owner", "GBOB")
	if strings.TrimSpace(stdout) != "[]" {
		t.Errorf("expected empty list for other owner, got %s", stdout)
	}
}

func TestWorkflowShow_Table(t *testing.T) {
	env := newTestEnv()
	def, _ := LoadDefinition(writeDefinition(t))
	wf, err := env.orch.Create(auth.WithUserID(context.Background(), "GALICE"), def)
	if err != nil {
		t.Fatal(err)
	}

	stdout, _, err := env.run(t, false, "workflow", "show", wf.ID.String())
	if err != nil {
		t.Fatalf("show error = %v", err)
	}

	for _, want := range []string{"DRAFT", "STEP", "wait", "shape", "transform"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output should contain %q:\n%s", want, stdout)
		}
	}
}

func TestWorkflowCommands_Errors(t *testing.T) {
	env := newTestEnv()

	tests := []struct {
		name string
		args []string
	}{
		{"show invalid id", []string{"workflow", "show", "not-a-uuid"}},
		{"show missing", []string{"workflow", "show", "7f1d3c2e-0000-4000-8000-000000000000"}},
		{"publish missing", []string{"workflow", "publish", "7f1d3c2e-0000-4000-8000-000000000000"}},
		{"create without file", []string{"workflow", "create"}},
		{"dlq replay invalid id", []string{"dlq", "replay", "xyz"}},
		{"cursor set negative", []string{"cursor", "set", "-5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := env.run(t, false, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWorkflowCancelAndDelete(t *testing.T) {
	env := newTestEnv()
	ctx := auth.WithUserID(context.Background(), "GALICE")
	def, _ := LoadDefinition(writeDefinition(t))
	wf, _ := env.orch.Create(ctx, def)
	env.orch.Publish(ctx, wf.ID)

	if _, _, err := env.run(t, false, "workflow", "cancel", wf.ID.String()); err != nil {
		t.Fatalf("cancel error = %v", err)
	}
	got, _ := env.orch.Get(ctx, wf.ID)
	if got.Status != domain.WorkflowStatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", got.Status)
	}

	if _, _, err := env.run(t, false, "workflow", "delete", wf.ID.String()); err != nil {
		t.Fatalf("delete error = %v", err)
	}
	if _, err := env.orch.Get(ctx, wf.ID); !errors.Is(err, orchestrator.ErrWorkflowNotFound) {
		t.Errorf("expected ErrWorkflowNotFound after delete, got %v", err)
	}
}

func TestDLQ_ListAndReplay(t *testing.T) {
	env := newTestEnv()
	ctx := auth.WithUserID(context.Background(), "GALICE")

	def, _ := LoadDefinition(writeDefinition(t))
	wf, _ := env.orch.Create(ctx, def)
	env.orch.Publish(ctx, wf.ID)
	err := env.orch.Activate(ctx, wf.ID, &domain.LedgerEvent{
		ID: "ev-1", Type: "payment", Payload: map[string]any{"asset": "XLM", "amount": "10"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Единственная попытка первого шага падает: шаг уходит в dead-letter.
	task, _ := env.queue.Lease(ctx, "w1")
	d, err := env.orch.BeginStep(ctx, task)
	if err != nil {
		t.Fatal(err)
	}
	err = env.orch.Advance(ctx, orchestrator.AdvanceRequest{
		StepID:     d.Step.ID,
		LeaseToken: d.Task.LeaseToken,
		Attempt:    d.Task.Attempt,
		Outcome:    domain.Failed(domain.ReasonActionFailure, errors.New("boom")),
	})
	if err != nil {
		t.Fatal(err)
	}

	stdout, _, err := env.run(t, true, "dlq", "list")
	if err != nil {
		t.Fatalf("dlq list error = %v", err)
	}
	var letters []domain.DeadLetter
	if err := json.Unmarshal([]byte(stdout), &letters); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if len(letters) != 1 || letters[0].WorkflowID != wf.ID {
		t.Fatalf("dead letters = %+v", letters)
	}

	_, stderr, err := env.run(t, false, "dlq", "replay", letters[0].ID.String())
	if err != nil {
		t.Fatalf("dlq replay error = %v", err)
	}
	if !strings.Contains(stderr, "requeued") {
		t.Errorf("stderr = %q", stderr)
	}

	got, _ := env.orch.Get(ctx, wf.ID)
	if got.Status != domain.WorkflowStatusRunning {
		t.Errorf("Status = %s, want RUNNING after replay", got.Status)
	}

	// Переигранная запись скрыта без --all.
	stdout, _, _ = env.run(t, true, "dlq", "list")
	if strings.TrimSpace(stdout) != "[]" {
		t.Errorf("replayed letter should be hidden, got %s", stdout)
	}
	stdout, _, _ = env.run(t, true, "dlq", "list", "--all")
	if !strings.Contains(stdout, letters[0].ID.String()) {
		t.Errorf("--all should include replayed letter, got %s", stdout)
	}

	if _, _, err := env.run(t, false, "dlq", "replay", letters[0].ID.String()); !errors.Is(err, orchestrator.ErrAlreadyReplayed) {
		t.Errorf("expected ErrAlreadyReplayed, got %v", err)
	}
}

func TestCursor_ShowAndSet(t *testing.T) {
	env := newTestEnv()

	if _, _, err := env.run(t, false, "cursor", "set", "12345"); err != nil {
		t.Fatalf("cursor set error = %v", err)
	}

	stdout, _, err := env.run(t, true, "cursor", "show")
	if err != nil {
		t.Fatalf("cursor show error = %v", err)
	}
	var got struct {
		Source string `json:"source"`
		Cursor int64  `json:"cursor"`
	}
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if got.Source != "horizon" || got.Cursor != 12345 {
		t.Errorf("cursor = %+v", got)
	}
}

func TestMigrate(t *testing.T) {
	env := newTestEnv()
	if _, _, err := env.run(t, false, "migrate"); err != nil {
		t.Fatalf("migrate error = %v", err)
	}
	if !env.migrated {
		t.Error("Migrate was not called")
	}
}

func TestOutput_JSONModeSuppressesText(t *testing.T) {
	var stdout, stderr bytes.Buffer
	out := NewOutputTo(true, &stdout, &stderr)

	out.Text("hello %s", "world")
	out.Print([]string{"A"}, [][]string{{"1"}}, map[string]int{"a": 1})

	if strings.Contains(stdout.String(), "hello") {
		t.Error("Text should be suppressed in JSON mode")
	}
	if !strings.Contains(stdout.String(), `"a": 1`) {
		t.Errorf("stdout = %q", stdout.String())
	}
}
