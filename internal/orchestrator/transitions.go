package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stellara/internal/backoff"
	"github.com/shaiso/Stellara/internal/domain"
	"github.com/shaiso/Stellara/internal/engine"
	"github.com/shaiso/Stellara/internal/queue"
	"github.com/shaiso/Stellara/internal/repo"
)

// Dispatch — всё, что нужно воркеру для выполнения одной попытки шага.
type Dispatch struct {
	Task     *domain.QueueTask
	Workflow *domain.Workflow
	Step     domain.WorkflowStep
	Event    domain.LedgerEvent

	// Timeout — таймаут шага, 0 если не задан.
	Timeout time.Duration

	// MaxAttempts — эффективный лимит попыток шага.
	MaxAttempts int
}

// AdvanceRequest — результат попытки, сообщаемый воркером.
// (StepID, Attempt, LeaseToken) идентифицирует попытку.
type AdvanceRequest struct {
	StepID     uuid.UUID
	LeaseToken uuid.UUID
	Attempt    int
	Outcome    domain.Outcome
}

// Activate запускает ACTIVE workflow событием ev.
//
// Повторная доставка того же события возвращает domain.ErrAlreadyRunning
// и ничего не меняет. Любой другой неподходящий статус — TransitionError.
func (o *Orchestrator) Activate(ctx context.Context, workflowID uuid.UUID, ev *domain.LedgerEvent) error {
	var ac afterCommit
	err := o.inTx(ctx, "activate", func(tx repo.Tx) error {
		ac = afterCommit{}

		wf, err := lockWorkflow(ctx, tx, workflowID)
		if err != nil {
			return err
		}

		if wf.Status != domain.WorkflowStatusActive {
			act, err := tx.GetActivation(ctx, wf.ID)
			switch {
			case err == nil && act.EventID == ev.ID:
				return fmt.Errorf("%w: workflow %s, event %s", domain.ErrAlreadyRunning, wf.ID, ev.ID)
			case err != nil && !errors.Is(err, repo.ErrNotFound):
				return err
			}
			return domain.NewWorkflowTransitionError(wf.ID, wf.Status, domain.WorkflowStatusRunning)
		}

		now := o.now()
		act := &domain.Activation{
			WorkflowID:  wf.ID,
			EventID:     ev.ID,
			EventType:   ev.Type,
			Sequence:    ev.Sequence,
			Payload:     ev.Payload,
			ActivatedAt: now,
		}
		if err := tx.InsertActivation(ctx, act); err != nil {
			if errors.Is(err, repo.ErrAlreadyExists) {
				return fmt.Errorf("%w: workflow %s, event %s", domain.ErrAlreadyRunning, wf.ID, ev.ID)
			}
			return err
		}

		if err := transitionWorkflow(wf, domain.WorkflowStatusRunning); err != nil {
			return err
		}
		wf.StartedAt = &now
		ac.activated = true

		if err := o.scheduleNext(ctx, tx, wf, ev, now, &ac); err != nil {
			return err
		}
		return tx.UpdateWorkflow(ctx, wf)
	})
	if err != nil {
		return err
	}

	o.logger.Info("workflow activated",
		"workflow_id", workflowID,
		"event_id", ev.ID,
		"event_type", ev.Type,
		"sequence", ev.Sequence,
	)
	o.flush(ctx, &ac)
	return nil
}

// BeginStep переводит шаг арендованного задания в RUNNING.
//
// Задания, которые больше не нужны (workflow удалён, отменён или шаг
// уже завершён), удаляются из очереди; в этом случае возвращается
// ErrStaleTask или ErrWorkflowNotRunning, и воркер просто берёт следующее.
func (o *Orchestrator) BeginStep(ctx context.Context, task *domain.QueueTask) (*Dispatch, error) {
	var (
		d      *Dispatch
		ac     afterCommit
		result error
	)

	err := o.inTx(ctx, "begin_step", func(tx repo.Tx) error {
		d, ac, result = nil, afterCommit{}, nil

		wf, err := lockWorkflow(ctx, tx, task.WorkflowID)
		if errors.Is(err, ErrWorkflowNotFound) {
			result = fmt.Errorf("%w: workflow %s gone", ErrStaleTask, task.WorkflowID)
			return dropTask(ctx, tx, task)
		}
		if err != nil {
			return err
		}

		cur, err := tx.GetTaskByToken(ctx, task.LeaseToken)
		if errors.Is(err, repo.ErrNotFound) {
			return queue.ErrLeaseLost
		}
		if err != nil {
			return err
		}
		if cur.Attempt != task.Attempt || cur.StepID != task.StepID {
			return queue.ErrLeaseLost
		}

		step := wf.Step(task.StepID)
		if step == nil {
			result = fmt.Errorf("%w: step %s gone", ErrStaleTask, task.StepID)
			return dropTask(ctx, tx, task)
		}

		now := o.now()

		if wf.Status != domain.WorkflowStatusRunning {
			if step.Status == domain.StepStatusRunning {
				step.Status = domain.StepStatusFailed
				step.Error = "workflow " + string(wf.Status)
				step.FinishedAt = &now
				if err := tx.UpdateStep(ctx, step); err != nil {
					return err
				}
			}
			result = fmt.Errorf("%w: workflow %s is %s", ErrWorkflowNotRunning, wf.ID, wf.Status)
			return dropTask(ctx, tx, task)
		}

		switch step.Status {
		case domain.StepStatusQueued:
			if err := transitionStep(step, domain.StepStatusRunning); err != nil {
				return err
			}
			step.StartedAt = &now
			step.Error = ""
		case domain.StepStatusRunning:
			// Аренда предыдущей попытки истекла без результата.
			step.Error = string(domain.ReasonLeaseExpired)
			ac.failedReason = domain.ReasonLeaseExpired
		default:
			result = fmt.Errorf("%w: step %s is %s", ErrStaleTask, step.ID, step.Status)
			return dropTask(ctx, tx, task)
		}

		policy := wf.EffectiveRetry(step, o.defaultRetry)
		if task.Attempt > policy.MaxAttempts {
			reason := fmt.Sprintf("attempts exhausted: %s", cur.LastError)
			if cur.LastError == "" {
				reason = "attempts exhausted: " + string(domain.ReasonLeaseExpired)
			}
			if err := o.failStep(ctx, tx, wf, step, cur, reason, now, &ac); err != nil {
				return err
			}
			result = fmt.Errorf("%w: step %s, attempt %d of %d", ErrAttemptsExhausted, step.ID, task.Attempt, policy.MaxAttempts)
			return nil
		}

		step.Attempts = task.Attempt
		if err := tx.UpdateStep(ctx, step); err != nil {
			return err
		}

		act, err := tx.GetActivation(ctx, wf.ID)
		if err != nil {
			return fmt.Errorf("get activation: %w", err)
		}

		d = &Dispatch{
			Task:        cur,
			Workflow:    wf,
			Step:        *step,
			Event:       act.Event(),
			Timeout:     time.Duration(step.TimeoutSec) * time.Second,
			MaxAttempts: policy.MaxAttempts,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.flush(ctx, &ac)
	if result != nil {
		o.logger.Debug("task dropped", "task_id", task.ID, "reason", result)
		return nil, result
	}
	return d, nil
}

// Advance применяет результат попытки шага.
//
// Успех ставит следующий шаг в очередь (или завершает workflow).
// Неудача либо возвращает шаг в очередь с backoff по RetryPolicy,
// либо, если попытки исчерпаны, отправляет задание в dead-letter
// и переводит workflow в FAILED.
func (o *Orchestrator) Advance(ctx context.Context, req AdvanceRequest) error {
	var ac afterCommit
	err := o.inTx(ctx, "advance", func(tx repo.Tx) error {
		ac = afterCommit{}

		row, err := tx.GetStep(ctx, req.StepID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: step %s not found", ErrStaleOutcome, req.StepID)
		}
		if err != nil {
			return err
		}

		wf, err := lockWorkflow(ctx, tx, row.WorkflowID)
		if errors.Is(err, ErrWorkflowNotFound) {
			return fmt.Errorf("%w: workflow %s gone", ErrStaleOutcome, row.WorkflowID)
		}
		if err != nil {
			return err
		}

		step := wf.Step(req.StepID)
		if step == nil || step.Status != domain.StepStatusRunning || step.Attempts != req.Attempt {
			return fmt.Errorf("%w: step %s attempt %d", ErrStaleOutcome, req.StepID, req.Attempt)
		}

		task, err := tx.GetTaskByToken(ctx, req.LeaseToken)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: lease %s no longer held", ErrStaleOutcome, req.LeaseToken)
		}
		if err != nil {
			return err
		}
		if task.StepID != step.ID || task.Attempt != req.Attempt {
			return fmt.Errorf("%w: lease %s belongs to another attempt", ErrStaleOutcome, req.LeaseToken)
		}

		now := o.now()

		// Workflow отменён, пока шаг выполнялся: фиксируем результат и выходим.
		if wf.Status != domain.WorkflowStatusRunning {
			recordOutcome(step, req.Outcome, now)
			if err := tx.UpdateStep(ctx, step); err != nil {
				return err
			}
			return tx.DeleteTask(ctx, task.ID)
		}

		if req.Outcome.Status == domain.OutcomeSucceeded {
			if err := transitionStep(step, domain.StepStatusSucceeded); err != nil {
				return err
			}
			step.Result = req.Outcome.Result
			step.Error = ""
			step.FinishedAt = &now
			if err := tx.UpdateStep(ctx, step); err != nil {
				return err
			}
			if _, err := queue.CompleteTx(ctx, tx, req.LeaseToken); err != nil {
				return err
			}
			ac.succeeded = true

			act, err := tx.GetActivation(ctx, wf.ID)
			if err != nil {
				return fmt.Errorf("get activation: %w", err)
			}
			ev := act.Event()
			if err := o.scheduleNext(ctx, tx, wf, &ev, now, &ac); err != nil {
				return err
			}
			return tx.UpdateWorkflow(ctx, wf)
		}

		reason := req.Outcome.Reason
		if reason == "" {
			reason = domain.ReasonActionFailure
		}
		msg := string(reason)
		if req.Outcome.Error != "" {
			msg += ": " + req.Outcome.Error
		}
		ac.failedReason = reason

		policy := wf.EffectiveRetry(step, o.defaultRetry)
		if task.Attempt >= policy.MaxAttempts {
			return o.failStep(ctx, tx, wf, step, task, msg, now, &ac)
		}

		// RUNNING → FAILED → QUEUED: попытка потрачена, шаг ждёт retry.
		if err := transitionStep(step, domain.StepStatusFailed); err != nil {
			return err
		}
		if err := transitionStep(step, domain.StepStatusQueued); err != nil {
			return err
		}
		step.Error = msg
		if err := tx.UpdateStep(ctx, step); err != nil {
			return err
		}

		delay := backoff.FromPolicy(policy).Delay(task.Attempt)
		res, err := queue.FailTx(ctx, tx, queue.FailRequest{
			Token:       req.LeaseToken,
			Reason:      msg,
			RetryAt:     now.Add(delay),
			MaxAttempts: policy.MaxAttempts,
			Now:         now,
			KeepLease:   reason == domain.ReasonTimeout,
		})
		if err != nil {
			return err
		}
		ac.retried = true
		ac.ready = append(ac.ready, res.Task)
		return nil
	})
	if err != nil {
		return err
	}

	o.logger.Debug("step advanced",
		"step_id", req.StepID,
		"attempt", req.Attempt,
		"outcome", req.Outcome.Status,
	)
	o.flush(ctx, &ac)
	return nil
}

// Cancel отменяет workflow. PENDING и QUEUED шаги становятся SKIPPED,
// их задания удаляются. Выполняющийся шаг дорабатывает, но следующий
// шаг уже не будет поставлен в очередь.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	var ac afterCommit
	err := o.inTx(ctx, "cancel", func(tx repo.Tx) error {
		ac = afterCommit{}

		wf, err := lockWorkflow(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := transitionWorkflow(wf, domain.WorkflowStatusCancelled); err != nil {
			return err
		}

		now := o.now()
		for i := range wf.Steps {
			step := &wf.Steps[i]
			switch step.Status {
			case domain.StepStatusQueued:
				task, err := tx.GetTaskByStep(ctx, step.ID)
				if err == nil {
					err = tx.DeleteTask(ctx, task.ID)
				}
				if err != nil && !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				fallthrough
			case domain.StepStatusPending:
				if err := transitionStep(step, domain.StepStatusSkipped); err != nil {
					return err
				}
				step.FinishedAt = &now
				if err := tx.UpdateStep(ctx, step); err != nil {
					return err
				}
			}
		}

		wf.CompletedAt = &now
		ac.workflowID = wf.ID
		ac.finished = domain.WorkflowStatusCancelled
		return tx.UpdateWorkflow(ctx, wf)
	})
	if err != nil {
		return err
	}

	o.logger.Info("workflow cancelled", "workflow_id", id)
	o.flush(ctx, &ac)
	return nil
}

// Replay перезапускает шаг из dead-letter записи.
//
// Допустимо только для FAILED workflow, чей шаг в FAILED: workflow
// возвращается в RUNNING, шаг в QUEUED со сброшенным счётчиком попыток.
func (o *Orchestrator) Replay(ctx context.Context, deadLetterID uuid.UUID) (*domain.QueueTask, error) {
	var (
		task *domain.QueueTask
		ac   afterCommit
	)
	err := o.inTx(ctx, "replay", func(tx repo.Tx) error {
		task, ac = nil, afterCommit{}

		dl, err := tx.GetDeadLetterForUpdate(ctx, deadLetterID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrDeadLetterNotFound, deadLetterID)
		}
		if err != nil {
			return err
		}
		if dl.ReplayedAt != nil {
			return fmt.Errorf("%w: %s", ErrAlreadyReplayed, deadLetterID)
		}

		wf, err := lockWorkflow(ctx, tx, dl.WorkflowID)
		if err != nil {
			return err
		}
		// FAILED → RUNNING — ручное ребро, вне обычного графа.
		if wf.Status != domain.WorkflowStatusFailed {
			return domain.NewWorkflowTransitionError(wf.ID, wf.Status, domain.WorkflowStatusRunning)
		}
		step := wf.Step(dl.StepID)
		if step == nil {
			return fmt.Errorf("%w: %s", ErrStepNotFound, dl.StepID)
		}
		// Шагу нужно событие активации: без него BeginStep не соберёт контекст
		if _, err := tx.GetActivation(ctx, wf.ID); errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: workflow %s", ErrActivationPurged, wf.ID)
		} else if err != nil {
			return err
		}
		if err := transitionStep(step, domain.StepStatusQueued); err != nil {
			return err
		}

		now := o.now()
		wf.Status = domain.WorkflowStatusRunning
		wf.Error = ""
		wf.CompletedAt = nil
		step.Attempts = 0
		step.Error = ""
		step.FinishedAt = nil

		if err := tx.UpdateStep(ctx, step); err != nil {
			return err
		}
		if err := tx.UpdateWorkflow(ctx, wf); err != nil {
			return err
		}

		task, err = queue.EnqueueTx(ctx, tx, step, now)
		if err != nil {
			return err
		}
		ac.ready = append(ac.ready, task)

		dl.ReplayedAt = &now
		return tx.UpdateDeadLetter(ctx, dl)
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("dead letter replayed",
		"dead_letter_id", deadLetterID,
		"workflow_id", task.WorkflowID,
		"step_id", task.StepID,
	)
	o.flush(ctx, &ac)
	return task, nil
}

// --- Internal ---

// scheduleNext ставит в очередь первый PENDING шаг с истинным условием.
// Шаги с ложным условием становятся SKIPPED. Если шагов не осталось,
// workflow завершается. Ошибка в условии переводит workflow в FAILED.
// Статус workflow сохраняет вызывающий.
func (o *Orchestrator) scheduleNext(ctx context.Context, tx repo.Tx, wf *domain.Workflow, ev *domain.LedgerEvent, now time.Time, ac *afterCommit) error {
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if step.Status != domain.StepStatusPending {
			continue
		}

		ok, err := engine.RenderCondition(step.Condition, engine.ForWorkflow(ev, wf))
		if err != nil {
			step.Error = fmt.Sprintf("condition: %v", err)
			if err := tx.UpdateStep(ctx, step); err != nil {
				return err
			}
			o.finish(wf, domain.WorkflowStatusFailed, fmt.Sprintf("step %q: %s", step.Name, step.Error), now, ac)
			return nil
		}

		if !ok {
			if err := transitionStep(step, domain.StepStatusSkipped); err != nil {
				return err
			}
			step.FinishedAt = &now
			if err := tx.UpdateStep(ctx, step); err != nil {
				return err
			}
			continue
		}

		if err := transitionStep(step, domain.StepStatusQueued); err != nil {
			return err
		}
		if err := tx.UpdateStep(ctx, step); err != nil {
			return err
		}
		task, err := queue.EnqueueTx(ctx, tx, step, now)
		if err != nil {
			return err
		}
		ac.ready = append(ac.ready, task)
		return nil
	}

	o.finish(wf, domain.WorkflowStatusCompleted, "", now, ac)
	return nil
}

// failStep переводит RUNNING шаг в FAILED, отправляет задание в
// dead-letter и завершает workflow с ошибкой.
func (o *Orchestrator) failStep(ctx context.Context, tx repo.Tx, wf *domain.Workflow, step *domain.WorkflowStep, task *domain.QueueTask, reason string, now time.Time, ac *afterCommit) error {
	if err := transitionStep(step, domain.StepStatusFailed); err != nil {
		return err
	}
	step.Error = reason
	step.FinishedAt = &now
	if err := tx.UpdateStep(ctx, step); err != nil {
		return err
	}

	dl, err := queue.DeadLetterTx(ctx, tx, task, reason, now)
	if err != nil {
		return err
	}
	ac.deadLetters = append(ac.deadLetters, dl)

	o.finish(wf, domain.WorkflowStatusFailed,
		fmt.Sprintf("step %q failed after %d attempts: %s", step.Name, task.Attempt, reason), now, ac)
	return tx.UpdateWorkflow(ctx, wf)
}

// finish переводит RUNNING workflow в терминальный статус.
func (o *Orchestrator) finish(wf *domain.Workflow, status domain.WorkflowStatus, errMsg string, now time.Time, ac *afterCommit) {
	wf.Status = status
	wf.Error = errMsg
	wf.CompletedAt = &now
	ac.workflowID = wf.ID
	ac.finished = status
	ac.finishError = errMsg
}

// recordOutcome фиксирует результат попытки без дальнейшего продвижения.
func recordOutcome(step *domain.WorkflowStep, out domain.Outcome, now time.Time) {
	step.FinishedAt = &now
	if out.Status == domain.OutcomeSucceeded {
		step.Status = domain.StepStatusSucceeded
		step.Result = out.Result
		step.Error = ""
		return
	}
	step.Status = domain.StepStatusFailed
	step.Error = string(out.Reason)
	if out.Error != "" {
		step.Error += ": " + out.Error
	}
}

func dropTask(ctx context.Context, tx repo.Tx, task *domain.QueueTask) error {
	err := tx.DeleteTask(ctx, task.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	return err
}
