package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stellara/internal/domain"
	"github.com/shaiso/Stellara/internal/repo/memrepo"
)

// fakeClock — управляемое время для тестов.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time           { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T) (*Queue, *memrepo.Store, *fakeClock) {
	t.Helper()
	store := memrepo.New()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	q := New(Config{
		Store:       store,
		Visibility:  10 * time.Second,
		MaxAttempts: 3,
		Clock:       clock.Now,
	})
	return q, store, clock
}

func newStep(workflowID uuid.UUID, position int) *domain.WorkflowStep {
	return &domain.WorkflowStep{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Position:   position,
		Name:       "step",
		Type:       "delay",
		Status:     domain.StepStatusQueued,
	}
}

func TestQueue_EnqueueLeaseComplete(t *testing.T) {
	ctx := context.Background()
	q, store, _ := newTestQueue(t)

	step := newStep(uuid.New(), 0)
	if _, err := q.Enqueue(ctx, step, 0); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	task, err := q.Lease(ctx, "w1")
	if err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if task == nil {
		t.Fatal("expected a task")
	}
	if task.StepID != step.ID || task.Attempt != 1 {
		t.Errorf("unexpected task: %+v", task)
	}

	// Пока аренда действует, задание невидимо
	again, err := q.Lease(ctx, "w2")
	if err != nil || again != nil {
		t.Fatalf("leased task should be invisible, got %v, %v", again, err)
	}

	if err := q.Complete(ctx, task.LeaseToken); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if n := len(store.Tasks()); n != 0 {
		t.Errorf("expected empty queue, got %d tasks", n)
	}

	// Повторный Complete — аренды больше нет
	if err := q.Complete(ctx, task.LeaseToken); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("expected ErrLeaseLost, got %v", err)
	}
}

func TestQueue_VisibilityTimeout(t *testing.T) {
	ctx := context.Background()
	q, _, clock := newTestQueue(t)

	if _, err := q.Enqueue(ctx, newStep(uuid.New(), 0), 0); err != nil {
		t.Fatal(err)
	}

	first, _ := q.Lease(ctx, "crashed-worker")
	if first == nil {
		t.Fatal("expected a task")
	}

	// Воркер упал; после visibility timeout задание снова доступно
	clock.Advance(11 * time.Second)

	second, err := q.Lease(ctx, "w2")
	if err != nil || second == nil {
		t.Fatalf("expected re-lease after expiry, got %v, %v", second, err)
	}
	if second.ID != first.ID || second.Attempt != 2 {
		t.Errorf("expected same task with attempt 2, got %+v", second)
	}

	// Токен упавшего воркера больше не действует
	if err := q.Complete(ctx, first.LeaseToken); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("expected ErrLeaseLost for stale token, got %v", err)
	}
	if err := q.Complete(ctx, second.LeaseToken); err != nil {
		t.Errorf("Complete() with current token error = %v", err)
	}
}

func TestQueue_FailWithDelay(t *testing.T) {
	ctx := context.Background()
	q, _, clock := newTestQueue(t)

	if _, err := q.Enqueue(ctx, newStep(uuid.New(), 0), 0); err != nil {
		t.Fatal(err)
	}
	task, _ := q.Lease(ctx, "w1")

	dl, err := q.Fail(ctx, task.LeaseToken, "boom", 5*time.Second)
	if err != nil || dl != nil {
		t.Fatalf("first failure should requeue, got %v, %v", dl, err)
	}

	// До истечения задержки задание невидимо
	clock.Advance(4 * time.Second)
	if got, _ := q.Lease(ctx, "w1"); got != nil {
		t.Fatal("task should be delayed")
	}

	clock.Advance(2 * time.Second)
	got, _ := q.Lease(ctx, "w1")
	if got == nil {
		t.Fatal("task should be visible after delay")
	}
	if got.LastError != "boom" || got.Attempt != 2 {
		t.Errorf("unexpected retried task: %+v", got)
	}
}

func TestQueue_DeadLetterAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	q, store, _ := newTestQueue(t)

	if _, err := q.Enqueue(ctx, newStep(uuid.New(), 0), 0); err != nil {
		t.Fatal(err)
	}

	var dl *domain.DeadLetter
	for attempt := 1; attempt <= 3; attempt++ {
		task, err := q.Lease(ctx, "w1")
		if err != nil || task == nil {
			t.Fatalf("attempt %d: lease failed: %v", attempt, err)
		}
		dl, err = q.Fail(ctx, task.LeaseToken, "poison", 0)
		if err != nil {
			t.Fatalf("attempt %d: Fail() error = %v", attempt, err)
		}
		if attempt < 3 && dl != nil {
			t.Fatalf("attempt %d: dead-lettered too early", attempt)
		}
	}

	if dl == nil {
		t.Fatal("expected dead letter after 3 attempts")
	}
	if dl.Attempts != 3 || dl.Reason != "poison" {
		t.Errorf("unexpected dead letter: %+v", dl)
	}
	if n := len(store.Tasks()); n != 0 {
		t.Errorf("dead-lettered task should leave the queue, got %d", n)
	}

	letters, _ := q.DeadLetters(ctx, 10)
	if len(letters) != 1 {
		t.Errorf("expected 1 dead letter, got %d", len(letters))
	}
}

func TestQueue_OneTaskPerWorkflow(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t)

	wfID := uuid.New()
	if _, err := q.Enqueue(ctx, newStep(wfID, 0), 0); err != nil {
		t.Fatal(err)
	}

	_, err := q.Enqueue(ctx, newStep(wfID, 1), 0)
	if !errors.Is(err, ErrWorkflowBusy) {
		t.Errorf("expected ErrWorkflowBusy, got %v", err)
	}

	// Другой workflow не блокируется
	if _, err := q.Enqueue(ctx, newStep(uuid.New(), 0), 0); err != nil {
		t.Errorf("other workflow should enqueue, got %v", err)
	}
}

func TestRescheduleTask_KeepLease(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := now.Add(30 * time.Second)

	task := &domain.QueueTask{}
	task.Lease("w1", uuid.New(), until)

	RescheduleTask(task, now.Add(time.Second), true)

	if task.LeaseToken != uuid.Nil {
		t.Error("token should be cleared")
	}
	if !task.AvailableAt.Equal(until) {
		t.Errorf("task should stay hidden until lease expiry, available at %v", task.AvailableAt)
	}
	if task.IsVisible(now.Add(10 * time.Second)) {
		t.Error("task should be invisible before lease expiry")
	}
	if !task.IsVisible(until) {
		t.Error("task should be visible at lease expiry")
	}
}
