package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stellara/internal/domain"
)

// WorkflowFilter — фильтр для списка workflows.
type WorkflowFilter struct {
	OwnerID string
	Status  domain.WorkflowStatus
	Limit   int
}

// WorkflowReader — чтение workflows вне транзакции.
type WorkflowReader interface {
	// GetWorkflow возвращает workflow вместе с шагами.
	GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)

	// ListWorkflows возвращает workflows без шагов.
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]domain.Workflow, error)

	// ListActiveByEventType возвращает ACTIVE workflows, чей триггер
	// слушает eventType (или "*").
	ListActiveByEventType(ctx context.Context, eventType string) ([]domain.Workflow, error)
}

// Tx — операции внутри одной транзакции.
//
// Строка workflow — единица блокировки: все изменения шагов и очереди
// делаются после GetWorkflowForUpdate того же workflow.
type Tx interface {
	CreateWorkflow(ctx context.Context, wf *domain.Workflow) error
	DeleteWorkflow(ctx context.Context, id uuid.UUID) error

	// GetWorkflowForUpdate блокирует строку workflow и загружает шаги.
	GetWorkflowForUpdate(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *domain.Workflow) error

	// GetStep читает шаг без блокировки (чтобы узнать его workflow).
	GetStep(ctx context.Context, id uuid.UUID) (*domain.WorkflowStep, error)
	UpdateStep(ctx context.Context, step *domain.WorkflowStep) error

	// InsertActivation возвращает ErrAlreadyExists для повторной пары (workflow, event).
	InsertActivation(ctx context.Context, a *domain.Activation) error
	GetActivation(ctx context.Context, workflowID uuid.UUID) (*domain.Activation, error)

	// InsertTask возвращает ErrAlreadyExists, если у workflow уже есть задание.
	InsertTask(ctx context.Context, task *domain.QueueTask) error
	GetTaskByStep(ctx context.Context, stepID uuid.UUID) (*domain.QueueTask, error)
	GetTaskByToken(ctx context.Context, token uuid.UUID) (*domain.QueueTask, error)
	UpdateTask(ctx context.Context, task *domain.QueueTask) error
	DeleteTask(ctx context.Context, id uuid.UUID) error
	DeleteTasksByWorkflow(ctx context.Context, workflowID uuid.UUID) (int, error)

	InsertDeadLetter(ctx context.Context, dl *domain.DeadLetter) error
	GetDeadLetterForUpdate(ctx context.Context, id uuid.UUID) (*domain.DeadLetter, error)
	UpdateDeadLetter(ctx context.Context, dl *domain.DeadLetter) error
}

// TxRunner выполняет fn в транзакции.
// Ошибка fn откатывает все изменения.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// LeaseStore — атомарная выдача заданий воркерам.
type LeaseStore interface {
	// LeaseTask арендует самое раннее видимое задание.
	// Возвращает ErrNotFound, если заданий нет.
	LeaseTask(ctx context.Context, workerID string, token uuid.UUID, now time.Time, visibility time.Duration) (*domain.QueueTask, error)
}

// CursorStore — персистентный курсор ledger.
type CursorStore interface {
	// LoadCursor возвращает 0, если курсор ещё не сохранялся.
	LoadCursor(ctx context.Context, source string) (int64, error)
	SaveCursor(ctx context.Context, source string, sequence int64) error
}

// DeadLetterReader — просмотр dead-letter записей.
type DeadLetterReader interface {
	ListDeadLetters(ctx context.Context, includeReplayed bool, limit int) ([]domain.DeadLetter, error)
}

// MaintenanceStore — обслуживание для scheduler.
type MaintenanceStore interface {
	PurgeActivations(ctx context.Context, olderThan time.Time) (int64, error)
	QueueStats(ctx context.Context, now time.Time) (domain.QueueStats, error)
}

// Store — всё хранилище целиком. Реализуется PGStore и memrepo.Store.
type Store interface {
	WorkflowReader
	TxRunner
	LeaseStore
	CursorStore
	DeadLetterReader
	MaintenanceStore
}
