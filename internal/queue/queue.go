// Package queue — очередь шагов поверх repo.
//
// Контракт:
//   - Enqueue(step, delay) — поставить задание шага
//   - Lease(workerID) — арендовать видимое задание на visibility timeout
//   - Complete(token) — удалить задание после успеха
//   - Fail(token, reason, delay) — вернуть задание в очередь или в dead-letter
//
// У каждого workflow в очереди не больше одного задания (уникальный
// индекс по workflow_id), поэтому шаг N+1 не может быть выдан, пока
// задание шага N арендовано или ждёт retry.
//
// Функции *Tx работают внутри транзакции оркестратора: смена статуса
// шага и операция над очередью коммитятся вместе.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stellara/internal/domain"
	"github.com/shaiso/Stellara/internal/repo"
)

// Значения по умолчанию.
const (
	DefaultVisibility  = 30 * time.Second
	DefaultMaxAttempts = 3
)

// Ошибки очереди.
var (
	// ErrLeaseLost — токен аренды не найден: аренда истекла и задание
	// выдано другому воркеру, либо задание уже завершено.
	ErrLeaseLost = errors.New("lease lost")

	// ErrWorkflowBusy — у workflow уже есть задание в очереди.
	ErrWorkflowBusy = errors.New("workflow already has a queued task")
)

// Store — то, что очередь требует от хранилища.
type Store interface {
	repo.TxRunner
	repo.LeaseStore
	repo.DeadLetterReader
}

// Config — конфигурация Queue.
type Config struct {
	Store Store

	// Visibility — на сколько задание скрывается после lease (default: 30s).
	Visibility time.Duration

	// MaxAttempts — после стольких выдач Fail отправляет задание в dead-letter (default: 3).
	MaxAttempts int

	// Clock — источник времени (для тестов).
	Clock func() time.Time

	Logger *slog.Logger
}

// Queue — очередь шагов.
type Queue struct {
	store       Store
	visibility  time.Duration
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

// New создаёт очередь.
func New(cfg Config) *Queue {
	visibility := cfg.Visibility
	if visibility <= 0 {
		visibility = DefaultVisibility
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		store:       cfg.Store,
		visibility:  visibility,
		maxAttempts: maxAttempts,
		now:         clock,
		logger:      logger,
	}
}

// Visibility возвращает visibility timeout.
func (q *Queue) Visibility() time.Duration {
	return q.visibility
}

// Enqueue ставит задание шага с задержкой delay.
func (q *Queue) Enqueue(ctx context.Context, step *domain.WorkflowStep, delay time.Duration) (*domain.QueueTask, error) {
	var task *domain.QueueTask
	err := q.store.WithTx(ctx, func(tx repo.Tx) error {
		var err error
		task, err = EnqueueTx(ctx, tx, step, q.now().Add(delay))
		return err
	})
	return task, err
}

// Lease арендует следующее видимое задание.
// Возвращает nil, nil, если заданий нет.
func (q *Queue) Lease(ctx context.Context, workerID string) (*domain.QueueTask, error) {
	task, err := q.store.LeaseTask(ctx, workerID, uuid.New(), q.now(), q.visibility)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease task: %w", err)
	}

	q.logger.Debug("task leased",
		"task_id", task.ID,
		"workflow_id", task.WorkflowID,
		"step_id", task.StepID,
		"attempt", task.Attempt,
		"worker_id", workerID,
	)
	return task, nil
}

// Complete удаляет задание по токену аренды.
func (q *Queue) Complete(ctx context.Context, token uuid.UUID) error {
	return q.store.WithTx(ctx, func(tx repo.Tx) error {
		_, err := CompleteTx(ctx, tx, token)
		return err
	})
}

// Fail возвращает задание в очередь через delay или, если попытки
// исчерпаны, переносит в dead-letter. Во втором случае возвращает запись.
func (q *Queue) Fail(ctx context.Context, token uuid.UUID, reason string, delay time.Duration) (*domain.DeadLetter, error) {
	var dl *domain.DeadLetter
	err := q.store.WithTx(ctx, func(tx repo.Tx) error {
		now := q.now()
		res, err := FailTx(ctx, tx, FailRequest{
			Token:       token,
			Reason:      reason,
			RetryAt:     now.Add(delay),
			MaxAttempts: q.maxAttempts,
			Now:         now,
		})
		dl = res.DeadLetter
		return err
	})
	return dl, err
}

// DeadLetters возвращает не переигранные dead-letter записи.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	return q.store.ListDeadLetters(ctx, false, limit)
}

// --- Tx-level операции ---

// EnqueueTx создаёт задание шага внутри транзакции.
func EnqueueTx(ctx context.Context, tx repo.Tx, step *domain.WorkflowStep, availableAt time.Time) (*domain.QueueTask, error) {
	task := &domain.QueueTask{
		ID:          uuid.New(),
		StepID:      step.ID,
		WorkflowID:  step.WorkflowID,
		Position:    step.Position,
		AvailableAt: availableAt,
		CreatedAt:   time.Now(),
	}
	if err := tx.InsertTask(ctx, task); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: workflow %s", ErrWorkflowBusy, step.WorkflowID)
		}
		return nil, err
	}
	return task, nil
}

// CompleteTx удаляет задание по токену аренды.
func CompleteTx(ctx context.Context, tx repo.Tx, token uuid.UUID) (*domain.QueueTask, error) {
	task, err := taskByToken(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	if err := tx.DeleteTask(ctx, task.ID); err != nil {
		return nil, err
	}
	return task, nil
}

// FailRequest — параметры FailTx.
type FailRequest struct {
	Token       uuid.UUID
	Reason      string
	RetryAt     time.Time
	MaxAttempts int
	Now         time.Time

	// KeepLease оставляет задание невидимым до конца текущей аренды.
	// Используется для таймаута: обработчик может ещё работать, и
	// повтор не должен начаться раньше, чем истечёт visibility timeout.
	KeepLease bool
}

// FailResult — итог FailTx: задание либо возвращено в очередь, либо в dead-letter.
type FailResult struct {
	Task       *domain.QueueTask
	DeadLetter *domain.DeadLetter
}

// FailTx возвращает задание в очередь или переносит в dead-letter,
// если task.Attempt >= MaxAttempts.
func FailTx(ctx context.Context, tx repo.Tx, req FailRequest) (FailResult, error) {
	task, err := taskByToken(ctx, tx, req.Token)
	if err != nil {
		return FailResult{}, err
	}

	if task.Attempt >= req.MaxAttempts {
		dl, err := DeadLetterTx(ctx, tx, task, req.Reason, req.Now)
		return FailResult{Task: task, DeadLetter: dl}, err
	}

	RescheduleTask(task, req.RetryAt, req.KeepLease)
	task.LastError = req.Reason
	if err := tx.UpdateTask(ctx, task); err != nil {
		return FailResult{}, err
	}
	return FailResult{Task: task}, nil
}

// RescheduleTask снимает аренду и откладывает задание до retryAt.
// С keepLease задание остаётся невидимым до конца аренды, но токен
// сбрасывается: запоздавший Complete старого владельца не пройдёт.
func RescheduleTask(task *domain.QueueTask, retryAt time.Time, keepLease bool) {
	leasedUntil := task.LeasedUntil
	task.ClearLease(retryAt)
	if keepLease && leasedUntil != nil {
		task.LeasedUntil = leasedUntil
		if leasedUntil.After(task.AvailableAt) {
			task.AvailableAt = *leasedUntil
		}
	}
}

// DeadLetterTx удаляет задание из очереди и записывает его в dead-letter.
func DeadLetterTx(ctx context.Context, tx repo.Tx, task *domain.QueueTask, reason string, now time.Time) (*domain.DeadLetter, error) {
	if err := tx.DeleteTask(ctx, task.ID); err != nil {
		return nil, err
	}

	dl := &domain.DeadLetter{
		ID:         uuid.New(),
		TaskID:     task.ID,
		StepID:     task.StepID,
		WorkflowID: task.WorkflowID,
		Attempts:   task.Attempt,
		Reason:     reason,
		FailedAt:   now,
	}
	if err := tx.InsertDeadLetter(ctx, dl); err != nil {
		return nil, err
	}
	return dl, nil
}

func taskByToken(ctx context.Context, tx repo.Tx, token uuid.UUID) (*domain.QueueTask, error) {
	task, err := tx.GetTaskByToken(ctx, token)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrLeaseLost
	}
	return task, err
}
