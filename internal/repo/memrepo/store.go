// Package memrepo — хранилище в памяти с той же семантикой, что repo.PGStore.
//
// Транзакции сериализуются одним мьютексом и откатываются снимком
// состояния. Используется в тестах и для локального запуска без БД.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stellara/internal/domain"
	"github.com/shaiso/Stellara/internal/repo"
)

// Compile-time проверки интерфейсов.
var (
	_ repo.Store = (*Store)(nil)
	_ repo.Tx    = (*memTx)(nil)
)

type activationKey struct {
	workflowID uuid.UUID
	eventID    string
}

type state struct {
	workflows   map[uuid.UUID]domain.Workflow
	steps       map[uuid.UUID]domain.WorkflowStep
	activations map[activationKey]domain.Activation
	tasks       map[uuid.UUID]domain.QueueTask
	deadLetters map[uuid.UUID]domain.DeadLetter
	cursors     map[string]int64
}

func newState() *state {
	return &state{
		workflows:   make(map[uuid.UUID]domain.Workflow),
		steps:       make(map[uuid.UUID]domain.WorkflowStep),
		activations: make(map[activationKey]domain.Activation),
		tasks:       make(map[uuid.UUID]domain.QueueTask),
		deadLetters: make(map[uuid.UUID]domain.DeadLetter),
		cursors:     make(map[string]int64),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.workflows {
		c.workflows[k] = v
	}
	for k, v := range st.steps {
		c.steps[k] = v
	}
	for k, v := range st.activations {
		c.activations[k] = v
	}
	for k, v := range st.tasks {
		c.tasks[k] = v
	}
	for k, v := range st.deadLetters {
		c.deadLetters[k] = v
	}
	for k, v := range st.cursors {
		c.cursors[k] = v
	}
	return c
}

// Store — in-memory реализация repo.Store.
type Store struct {
	mu sync.Mutex
	st *state

	// txFailures — ошибки, которые вернут следующие вызовы WithTx.
	txFailures []error
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{st: newState()}
}

// FailNextTx заставляет следующие len(errs) транзакций вернуть эти ошибки
// до выполнения fn. Нужен для тестов повторов при временных сбоях.
func (s *Store) FailNextTx(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txFailures = append(s.txFailures, errs...)
}

// WithTx выполняет fn под глобальной блокировкой; ошибка откатывает изменения.
func (s *Store) WithTx(ctx context.Context, fn func(tx repo.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.txFailures) > 0 {
		err := s.txFailures[0]
		s.txFailures = s.txFailures[1:]
		return err
	}

	snapshot := s.st.clone()
	if err := fn(&memTx{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// GetWorkflow возвращает workflow с шагами.
func (s *Store) GetWorkflow(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.assemble(id)
}

// ListWorkflows возвращает workflows без шагов, новые сначала.
func (s *Store) ListWorkflows(_ context.Context, filter repo.WorkflowFilter) ([]domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.Workflow
	for _, wf := range s.st.workflows {
		if filter.OwnerID != "" && wf.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		result = append(result, wf)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// ListActiveByEventType возвращает ACTIVE workflows для типа события.
func (s *Store) ListActiveByEventType(_ context.Context, eventType string) ([]domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.Workflow
	for _, wf := range s.st.workflows {
		if wf.Status != domain.WorkflowStatusActive {
			continue
		}
		if wf.Trigger.EventType == eventType || wf.Trigger.EventType == "*" {
			result = append(result, wf)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// LeaseTask арендует самое раннее видимое задание.
func (s *Store) LeaseTask(ctx context.Context, workerID string, token uuid.UUID, now time.Time, visibility time.Duration) (*domain.QueueTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.QueueTask
	for _, t := range s.st.tasks {
		if !t.IsVisible(now) {
			continue
		}
		if best == nil || t.AvailableAt.Before(best.AvailableAt) ||
			(t.AvailableAt.Equal(best.AvailableAt) && t.Position < best.Position) {
			t := t
			best = &t
		}
	}
	if best == nil {
		return nil, repo.ErrNotFound
	}

	best.Lease(workerID, token, now.Add(visibility))
	s.st.tasks[best.ID] = *best
	leased := *best
	return &leased, nil
}

// LoadCursor возвращает курсор источника или 0.
func (s *Store) LoadCursor(_ context.Context, source string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.cursors[source], nil
}

// SaveCursor сохраняет курсор, не сдвигая его назад.
func (s *Store) SaveCursor(_ context.Context, source string, sequence int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sequence > s.st.cursors[source] {
		s.st.cursors[source] = sequence
	}
	return nil
}

// ResetCursor выставляет курсор без проверки.
func (s *Store) ResetCursor(_ context.Context, source string, sequence int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.cursors[source] = sequence
	return nil
}

// ListDeadLetters возвращает dead-letter записи, новые сначала.
func (s *Store) ListDeadLetters(_ context.Context, includeReplayed bool, limit int) ([]domain.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.DeadLetter
	for _, dl := range s.st.deadLetters {
		if !includeReplayed && dl.ReplayedAt != nil {
			continue
		}
		result = append(result, dl)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FailedAt.After(result[j].FailedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// PurgeActivations удаляет старые активации терминальных workflows
// без непереигранных dead letters.
func (s *Store) PurgeActivations(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[uuid.UUID]bool)
	for _, dl := range s.st.deadLetters {
		if dl.ReplayedAt == nil {
			pending[dl.WorkflowID] = true
		}
	}

	var n int64
	for k, a := range s.st.activations {
		wf, ok := s.st.workflows[k.workflowID]
		if (ok && !wf.Status.IsTerminal()) || pending[k.workflowID] {
			continue
		}
		if a.ActivatedAt.Before(olderThan) {
			delete(s.st.activations, k)
			n++
		}
	}
	return n, nil
}

// QueueStats считает задания по состояниям.
func (s *Store) QueueStats(_ context.Context, now time.Time) (domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st domain.QueueStats
	for _, t := range s.st.tasks {
		switch {
		case t.IsLeased(now):
			st.Leased++
		case t.AvailableAt.After(now):
			st.Delayed++
		default:
			st.Ready++
		}
		if t.LeaseToken != uuid.Nil && !t.IsLeased(now) {
			st.Expired++
		}
	}
	for _, dl := range s.st.deadLetters {
		if dl.ReplayedAt == nil {
			st.DeadLetters++
		}
	}
	return st, nil
}

// Tasks возвращает копию всех заданий очереди.
func (s *Store) Tasks() []domain.QueueTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.QueueTask, 0, len(s.st.tasks))
	for _, t := range s.st.tasks {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

// Activations возвращает количество активаций workflow.
func (s *Store) Activations(workflowID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.st.activations {
		if k.workflowID == workflowID {
			n++
		}
	}
	return n
}

// DropActivations удаляет активации workflow в обход правил обслуживания.
func (s *Store) DropActivations(workflowID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.st.activations {
		if k.workflowID == workflowID {
			delete(s.st.activations, k)
		}
	}
}

// assemble собирает workflow со шагами по порядку.
func (st *state) assemble(id uuid.UUID) (*domain.Workflow, error) {
	wf, ok := st.workflows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	wf.Steps = nil
	for _, step := range st.steps {
		if step.WorkflowID == id {
			wf.Steps = append(wf.Steps, step)
		}
	}
	sort.Slice(wf.Steps, func(i, j int) bool { return wf.Steps[i].Position < wf.Steps[j].Position })
	return &wf, nil
}
