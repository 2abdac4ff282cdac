package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stellara/internal/domain"
)

const taskColumns = `id, step_id, workflow_id, position, available_at, attempt,
	lease_token, leased_by, leased_until, last_error, created_at`

// LeaseTask атомарно арендует самое раннее видимое задание.
//
// Видимо задание, у которого наступил available_at и нет действующей
// аренды. SKIP LOCKED позволяет воркерам не ждать друг друга.
func (s *PGStore) LeaseTask(ctx context.Context, workerID string, token uuid.UUID, now time.Time, visibility time.Duration) (*domain.QueueTask, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE queue_tasks
		SET attempt = attempt + 1,
		    lease_token = $1,
		    leased_by = $2,
		    leased_until = $3
		WHERE id = (
			SELECT id FROM queue_tasks
			WHERE available_at <= $4
			  AND (leased_until IS NULL OR leased_until <= $4)
			ORDER BY available_at ASC, position ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+taskColumns,
		token, workerID, now.Add(visibility), now,
	)

	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListDeadLetters возвращает dead-letter записи, новые сначала.
func (s *PGStore) ListDeadLetters(ctx context.Context, includeReplayed bool, limit int) ([]domain.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, step_id, workflow_id, attempts, reason, failed_at, replayed_at
		FROM dead_letters
		WHERE $1 OR replayed_at IS NULL
		ORDER BY failed_at DESC
		LIMIT $2
	`, includeReplayed, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", classify(err))
	}
	defer rows.Close()

	var result []domain.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *dl)
	}
	return result, classify(rows.Err())
}

// PurgeActivations удаляет активации старше olderThan у терминальных workflows.
// Workflows с непереигранными dead letters не трогаются: Replay нужна активация.
func (s *PGStore) PurgeActivations(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM workflow_activations a
		USING workflows w
		WHERE a.workflow_id = w.id
		  AND a.activated_at < $1
		  AND w.status IN ('COMPLETED', 'FAILED', 'CANCELLED')
		  AND NOT EXISTS (
			SELECT 1 FROM dead_letters d
			WHERE d.workflow_id = w.id AND d.replayed_at IS NULL
		  )
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge activations: %w", classify(err))
	}
	return tag.RowsAffected(), nil
}

// QueueStats считает задания очереди по состояниям.
func (s *PGStore) QueueStats(ctx context.Context, now time.Time) (domain.QueueStats, error) {
	var st domain.QueueStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE available_at <= $1 AND (leased_until IS NULL OR leased_until <= $1)),
			COUNT(*) FILTER (WHERE available_at > $1 AND (leased_until IS NULL OR leased_until <= $1)),
			COUNT(*) FILTER (WHERE leased_until > $1),
			COUNT(*) FILTER (WHERE lease_token IS NOT NULL AND leased_until <= $1),
			(SELECT COUNT(*) FROM dead_letters WHERE replayed_at IS NULL)
		FROM queue_tasks
	`, now).Scan(&st.Ready, &st.Delayed, &st.Leased, &st.Expired, &st.DeadLetters)
	if err != nil {
		return st, fmt.Errorf("queue stats: %w", classify(err))
	}
	return st, nil
}

// --- pgTx ---

// InsertTask ставит задание в очередь.
func (t *pgTx) InsertTask(ctx context.Context, task *domain.QueueTask) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO queue_tasks (id, step_id, workflow_id, position, available_at, attempt, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		task.ID,
		task.StepID,
		task.WorkflowID,
		task.Position,
		task.AvailableAt,
		task.Attempt,
		nullString(task.LastError),
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", classify(err))
	}
	return nil
}

// GetTaskByStep возвращает задание шага.
func (t *pgTx) GetTaskByStep(ctx context.Context, stepID uuid.UUID) (*domain.QueueTask, error) {
	return scanTask(t.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM queue_tasks WHERE step_id = $1 FOR UPDATE`, stepID))
}

// GetTaskByToken возвращает задание по токену аренды.
func (t *pgTx) GetTaskByToken(ctx context.Context, token uuid.UUID) (*domain.QueueTask, error) {
	return scanTask(t.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM queue_tasks WHERE lease_token = $1 FOR UPDATE`, token))
}

// UpdateTask сохраняет аренду, попытку и время доступности.
func (t *pgTx) UpdateTask(ctx context.Context, task *domain.QueueTask) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE queue_tasks
		SET available_at = $2, attempt = $3, lease_token = $4, leased_by = $5,
		    leased_until = $6, last_error = $7
		WHERE id = $1
	`,
		task.ID,
		task.AvailableAt,
		task.Attempt,
		nullUUID(task.LeaseToken),
		nullString(task.LeasedBy),
		task.LeasedUntil,
		nullString(task.LastError),
	)
	if err != nil {
		return fmt.Errorf("update task: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask удаляет задание (complete или dead-letter).
func (t *pgTx) DeleteTask(ctx context.Context, id uuid.UUID) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM queue_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTasksByWorkflow удаляет все задания workflow.
func (t *pgTx) DeleteTasksByWorkflow(ctx context.Context, workflowID uuid.UUID) (int, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM queue_tasks WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", classify(err))
	}
	return int(tag.RowsAffected()), nil
}

// InsertDeadLetter записывает задание в dead-letter.
func (t *pgTx) InsertDeadLetter(ctx context.Context, dl *domain.DeadLetter) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO dead_letters (id, task_id, step_id, workflow_id, attempts, reason, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, dl.ID, dl.TaskID, dl.StepID, dl.WorkflowID, dl.Attempts, dl.Reason, dl.FailedAt)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", classify(err))
	}
	return nil
}

// GetDeadLetterForUpdate блокирует dead-letter запись.
func (t *pgTx) GetDeadLetterForUpdate(ctx context.Context, id uuid.UUID) (*domain.DeadLetter, error) {
	return scanDeadLetter(t.q.QueryRow(ctx, `
		SELECT id, task_id, step_id, workflow_id, attempts, reason, failed_at, replayed_at
		FROM dead_letters
		WHERE id = $1
		FOR UPDATE
	`, id))
}

// UpdateDeadLetter сохраняет отметку о replay.
func (t *pgTx) UpdateDeadLetter(ctx context.Context, dl *domain.DeadLetter) error {
	tag, err := t.q.Exec(ctx, `UPDATE dead_letters SET replayed_at = $2 WHERE id = $1`, dl.ID, dl.ReplayedAt)
	if err != nil {
		return fmt.Errorf("update dead letter: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func scanTask(row scanner) (*domain.QueueTask, error) {
	var task domain.QueueTask
	var token *uuid.UUID
	var leasedBy, lastError *string

	err := row.Scan(
		&task.ID,
		&task.StepID,
		&task.WorkflowID,
		&task.Position,
		&task.AvailableAt,
		&task.Attempt,
		&token,
		&leasedBy,
		&task.LeasedUntil,
		&lastError,
		&task.CreatedAt,
	)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if token != nil {
		task.LeaseToken = *token
	}
	task.LeasedBy = derefString(leasedBy)
	task.LastError = derefString(lastError)

	return &task, nil
}

func scanDeadLetter(row scanner) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	err := row.Scan(
		&dl.ID,
		&dl.TaskID,
		&dl.StepID,
		&dl.WorkflowID,
		&dl.Attempts,
		&dl.Reason,
		&dl.FailedAt,
		&dl.ReplayedAt,
	)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan dead letter: %w", err)
	}
	return &dl, nil
}
