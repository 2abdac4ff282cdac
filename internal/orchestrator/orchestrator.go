package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stellara/internal/auth"
	"github.com/shaiso/Stellara/internal/backoff"
	"github.com/shaiso/Stellara/internal/domain"
	"github.com/shaiso/Stellara/internal/engine"
	"github.com/shaiso/Stellara/internal/repo"
	"github.com/shaiso/Stellara/internal/telemetry"
)

// Default configuration values.
const (
	defaultMaxAttempts   = 3
	defaultInfraAttempts = 5
)

// Store — то, что оркестратор требует от хранилища.
type Store interface {
	repo.TxRunner
	repo.WorkflowReader
}

// Notifier получает уведомления после коммита.
// Ошибки уведомлений только логируются: очередь в БД — источник правды.
type Notifier interface {
	StepReady(ctx context.Context, task *domain.QueueTask) error
	TaskDeadLettered(ctx context.Context, dl *domain.DeadLetter) error
}

// Orchestrator — машина состояний workflow.
type Orchestrator struct {
	store    Store
	users    auth.UserResolver
	notifier Notifier

	defaultRetry  domain.RetryPolicy
	infraBackoff  backoff.Strategy
	infraAttempts int
	knownTypes    engine.TypeChecker

	now    func() time.Time
	logger *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	Store Store

	// Users — источник владельца для Create (опционально).
	Users auth.UserResolver

	// Notifier — уведомления о готовых заданиях (опционально).
	Notifier Notifier

	// DefaultRetry — политика для шагов без своей (default: 3 попытки, exponential 1s..30s).
	DefaultRetry domain.RetryPolicy

	// InfraBackoff и InfraAttempts — повторы транзакций при временных ошибках.
	InfraBackoff  backoff.Strategy
	InfraAttempts int

	// KnownStepTypes — проверка типов шагов при Create (default: встроенные типы).
	KnownStepTypes engine.TypeChecker

	// Clock — источник времени (для тестов).
	Clock func() time.Time

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	retry := cfg.DefaultRetry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}

	infraBackoff := cfg.InfraBackoff
	if infraBackoff == nil {
		infraBackoff = backoff.Jitter{Initial: 50 * time.Millisecond, Max: 2 * time.Second}
	}
	infraAttempts := cfg.InfraAttempts
	if infraAttempts <= 0 {
		infraAttempts = defaultInfraAttempts
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		store:         cfg.Store,
		users:         cfg.Users,
		notifier:      cfg.Notifier,
		defaultRetry:  retry,
		infraBackoff:  infraBackoff,
		infraAttempts: infraAttempts,
		knownTypes:    cfg.KnownStepTypes,
		now:           clock,
		logger:        logger,
	}
}

// inTx выполняет fn в транзакции, повторяя её при временных ошибках.
// fn может вызываться несколько раз и не должна иметь внешних эффектов.
func (o *Orchestrator) inTx(ctx context.Context, op string, fn func(tx repo.Tx) error) error {
	err := backoff.Retry(ctx, o.infraBackoff, o.infraAttempts, func() error {
		return o.store.WithTx(ctx, fn)
	})
	if domain.IsTransient(err) {
		telemetry.InfraRetriesExhausted.WithLabelValues(op).Inc()
		o.logger.Error("transaction retries exhausted", "operation", op, "error", err)
	}
	return err
}

// Create сохраняет новый workflow в статусе DRAFT.
// Владелец берётся из auth-границы, если она настроена.
func (o *Orchestrator) Create(ctx context.Context, wf *domain.Workflow) (*domain.Workflow, error) {
	if o.users != nil {
		owner, err := o.users.CurrentUserID(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve owner: %w", err)
		}
		wf.OwnerID = owner
	}

	engine.Normalize(wf)
	if err := engine.Validate(wf, o.knownTypes); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidWorkflow, err)
	}

	wf.ID = uuid.New()
	wf.Status = domain.WorkflowStatusDraft
	wf.CreatedAt = o.now()
	wf.Error = ""
	wf.ActivatedAt, wf.StartedAt, wf.CompletedAt = nil, nil, nil
	for i := range wf.Steps {
		step := &wf.Steps[i]
		step.ID = uuid.New()
		step.WorkflowID = wf.ID
		step.Status = domain.StepStatusPending
		step.Attempts = 0
		step.Result = nil
		step.Error = ""
	}

	err := o.inTx(ctx, "create", func(tx repo.Tx) error {
		return tx.CreateWorkflow(ctx, wf)
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("workflow created",
		"workflow_id", wf.ID,
		"owner_id", wf.OwnerID,
		"steps", len(wf.Steps),
	)
	return wf, nil
}

// Publish переводит workflow из DRAFT в ACTIVE.
func (o *Orchestrator) Publish(ctx context.Context, id uuid.UUID) error {
	err := o.inTx(ctx, "publish", func(tx repo.Tx) error {
		wf, err := lockWorkflow(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := transitionWorkflow(wf, domain.WorkflowStatusActive); err != nil {
			return err
		}
		now := o.now()
		wf.ActivatedAt = &now
		return tx.UpdateWorkflow(ctx, wf)
	})
	if err != nil {
		return err
	}

	o.logger.Info("workflow published", "workflow_id", id)
	return nil
}

// Delete удаляет workflow вместе с историей.
// Запущенный workflow сначала нужно отменить.
func (o *Orchestrator) Delete(ctx context.Context, id uuid.UUID) error {
	return o.inTx(ctx, "delete", func(tx repo.Tx) error {
		wf, err := lockWorkflow(ctx, tx, id)
		if err != nil {
			return err
		}
		if wf.Status == domain.WorkflowStatusRunning {
			return fmt.Errorf("%w: cancel running workflow %s before delete", domain.ErrIllegalTransition, id)
		}
		if _, err := tx.DeleteTasksByWorkflow(ctx, id); err != nil {
			return err
		}
		return tx.DeleteWorkflow(ctx, id)
	})
}

// Get возвращает workflow с шагами.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	wf, err := o.store.GetWorkflow(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return wf, err
}

// List возвращает workflows по фильтру.
func (o *Orchestrator) List(ctx context.Context, filter repo.WorkflowFilter) ([]domain.Workflow, error) {
	return o.store.ListWorkflows(ctx, filter)
}

// --- Helpers ---

func lockWorkflow(ctx context.Context, tx repo.Tx, id uuid.UUID) (*domain.Workflow, error) {
	wf, err := tx.GetWorkflowForUpdate(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return wf, err
}

// transitionWorkflow проверяет ребро и меняет статус.
func transitionWorkflow(wf *domain.Workflow, to domain.WorkflowStatus) error {
	if !wf.Status.CanTransitionTo(to) {
		return domain.NewWorkflowTransitionError(wf.ID, wf.Status, to)
	}
	wf.Status = to
	return nil
}

// transitionStep проверяет ребро и меняет статус шага.
func transitionStep(step *domain.WorkflowStep, to domain.StepStatus) error {
	if !step.Status.CanTransitionTo(to) {
		return domain.NewStepTransitionError(step.ID, step.Status, to)
	}
	step.Status = to
	return nil
}

// afterCommit собирает уведомления, которые отправляются после коммита.
type afterCommit struct {
	ready        []*domain.QueueTask
	deadLetters  []*domain.DeadLetter
	workflowID   uuid.UUID
	finished     domain.WorkflowStatus
	finishError  string
	activated    bool
	succeeded    bool
	failedReason domain.FailureReason
	retried      bool
}

func (o *Orchestrator) flush(ctx context.Context, ac *afterCommit) {
	if ac.activated {
		telemetry.WorkflowsActivated.Inc()
	}
	if ac.succeeded {
		telemetry.StepsSucceeded.Inc()
	}
	if ac.failedReason != "" {
		telemetry.StepsFailed.WithLabelValues(string(ac.failedReason)).Inc()
	}
	if ac.retried {
		telemetry.StepsRetried.Inc()
	}
	if ac.finished != "" {
		telemetry.WorkflowsFinished.WithLabelValues(string(ac.finished)).Inc()
		telemetry.WithWorkflowID(o.logger, ac.workflowID.String()).Info("workflow finished",
			"status", ac.finished,
			"error", ac.finishError,
		)
	}
	for range ac.deadLetters {
		telemetry.TasksDeadLettered.Inc()
	}

	if o.notifier == nil {
		return
	}
	now := o.now()
	for _, task := range ac.ready {
		if task.AvailableAt.After(now) {
			continue
		}
		if err := o.notifier.StepReady(ctx, task); err != nil {
			o.logger.Warn("failed to notify step ready", "task_id", task.ID, "error", err)
		}
	}
	for _, dl := range ac.deadLetters {
		if err := o.notifier.TaskDeadLettered(ctx, dl); err != nil {
			o.logger.Warn("failed to notify dead letter", "dead_letter_id", dl.ID, "error", err)
		}
	}
}
