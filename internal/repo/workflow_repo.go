package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Stellara/internal/domain"
)

const workflowColumns = `id, owner_id, name, description, trigger, retry, status, error,
	created_at, activated_at, started_at, completed_at`

const stepColumns = `id, workflow_id, position, name, type, config, condition, retry, timeout_sec,
	status, result, error, attempts, started_at, finished_at`

// --- PGStore (вне транзакции) ---

// GetWorkflow возвращает workflow с шагами.
func (s *PGStore) GetWorkflow(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	return getWorkflow(ctx, s.pool, id, false)
}

// ListWorkflows возвращает workflows без шагов.
func (s *PGStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]domain.Workflow, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE ($1::text IS NULL OR owner_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, nullString(filter.OwnerID), nullString(string(filter.Status)), limit)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", classify(err))
	}
	defer rows.Close()

	var result []domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *wf)
	}
	return result, classify(rows.Err())
}

// ListActiveByEventType возвращает ACTIVE workflows для типа события.
func (s *PGStore) ListActiveByEventType(ctx context.Context, eventType string) ([]domain.Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE status = 'ACTIVE' AND event_type IN ($1, '*')
		ORDER BY created_at ASC
	`, eventType)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", classify(err))
	}
	defer rows.Close()

	var result []domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *wf)
	}
	return result, classify(rows.Err())
}

// --- pgTx ---

// CreateWorkflow вставляет workflow вместе с шагами.
func (t *pgTx) CreateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	triggerJSON, err := json.Marshal(wf.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	retryJSON, err := marshalRetry(wf.Retry)
	if err != nil {
		return err
	}

	_, err = t.q.Exec(ctx, `
		INSERT INTO workflows (id, owner_id, name, description, trigger, event_type, retry, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		wf.ID,
		wf.OwnerID,
		wf.Name,
		nullString(wf.Description),
		triggerJSON,
		wf.Trigger.EventType,
		retryJSON,
		wf.Status,
		wf.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", classify(err))
	}

	for i := range wf.Steps {
		if err := t.insertStep(ctx, &wf.Steps[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) insertStep(ctx context.Context, step *domain.WorkflowStep) error {
	configJSON, err := json.Marshal(step.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	retryJSON, err := marshalRetry(step.Retry)
	if err != nil {
		return err
	}

	_, err = t.q.Exec(ctx, `
		INSERT INTO workflow_steps (id, workflow_id, position, name, type, config, condition, retry, timeout_sec, status, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		step.ID,
		step.WorkflowID,
		step.Position,
		step.Name,
		step.Type,
		configJSON,
		nullString(step.Condition),
		retryJSON,
		step.TimeoutSec,
		step.Status,
		step.Attempts,
	)
	if err != nil {
		return fmt.Errorf("insert step %s: %w", step.Name, classify(err))
	}
	return nil
}

// DeleteWorkflow удаляет workflow; шаги и активации удаляются каскадом.
func (t *pgTx) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	result, err := t.q.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", classify(err))
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetWorkflowForUpdate блокирует строку workflow и читает его шаги.
func (t *pgTx) GetWorkflowForUpdate(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	return getWorkflow(ctx, t.q, id, true)
}

// UpdateWorkflow сохраняет статус и временные метки workflow.
func (t *pgTx) UpdateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	result, err := t.q.Exec(ctx, `
		UPDATE workflows
		SET status = $2, error = $3, activated_at = $4, started_at = $5, completed_at = $6
		WHERE id = $1
	`,
		wf.ID,
		wf.Status,
		nullString(wf.Error),
		wf.ActivatedAt,
		wf.StartedAt,
		wf.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", classify(err))
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStep возвращает шаг по ID.
func (t *pgTx) GetStep(ctx context.Context, id uuid.UUID) (*domain.WorkflowStep, error) {
	row := t.q.QueryRow(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE id = $1`, id)
	return scanStep(row)
}

// UpdateStep сохраняет состояние выполнения шага.
func (t *pgTx) UpdateStep(ctx context.Context, step *domain.WorkflowStep) error {
	resultJSON, err := json.Marshal(step.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tag, err := t.q.Exec(ctx, `
		UPDATE workflow_steps
		SET status = $2, result = $3, error = $4, attempts = $5, started_at = $6, finished_at = $7
		WHERE id = $1
	`,
		step.ID,
		step.Status,
		resultJSON,
		nullString(step.Error),
		step.Attempts,
		step.StartedAt,
		step.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update step: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertActivation записывает факт активации.
func (t *pgTx) InsertActivation(ctx context.Context, a *domain.Activation) error {
	payloadJSON, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = t.q.Exec(ctx, `
		INSERT INTO workflow_activations (workflow_id, event_id, event_type, sequence, payload, activated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.WorkflowID, a.EventID, a.EventType, a.Sequence, payloadJSON, a.ActivatedAt)
	if err != nil {
		return fmt.Errorf("insert activation: %w", classify(err))
	}
	return nil
}

// GetActivation возвращает последнюю активацию workflow.
func (t *pgTx) GetActivation(ctx context.Context, workflowID uuid.UUID) (*domain.Activation, error) {
	var a domain.Activation
	var payloadJSON []byte

	err := t.q.QueryRow(ctx, `
		SELECT workflow_id, event_id, event_type, sequence, payload, activated_at
		FROM workflow_activations
		WHERE workflow_id = $1
		ORDER BY activated_at DESC
		LIMIT 1
	`, workflowID).Scan(&a.WorkflowID, &a.EventID, &a.EventType, &a.Sequence, &payloadJSON, &a.ActivatedAt)
	if err != nil {
		return nil, classify(err)
	}
	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &a.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return &a, nil
}

// --- Helpers ---

func getWorkflow(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*domain.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	wf, err := scanWorkflow(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT `+stepColumns+`
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		wf.Steps = append(wf.Steps, *step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list steps: %w", classify(err))
	}
	return wf, nil
}

func scanWorkflow(row scanner) (*domain.Workflow, error) {
	var wf domain.Workflow
	var triggerJSON, retryJSON []byte
	var description, wfError *string

	err := row.Scan(
		&wf.ID,
		&wf.OwnerID,
		&wf.Name,
		&description,
		&triggerJSON,
		&retryJSON,
		&wf.Status,
		&wfError,
		&wf.CreatedAt,
		&wf.ActivatedAt,
		&wf.StartedAt,
		&wf.CompletedAt,
	)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	if err := json.Unmarshal(triggerJSON, &wf.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if wf.Retry, err = unmarshalRetry(retryJSON); err != nil {
		return nil, err
	}
	wf.Description = derefString(description)
	wf.Error = derefString(wfError)

	return &wf, nil
}

func scanStep(row scanner) (*domain.WorkflowStep, error) {
	var step domain.WorkflowStep
	var configJSON, retryJSON, resultJSON []byte
	var condition, stepError *string

	err := row.Scan(
		&step.ID,
		&step.WorkflowID,
		&step.Position,
		&step.Name,
		&step.Type,
		&configJSON,
		&condition,
		&retryJSON,
		&step.TimeoutSec,
		&step.Status,
		&resultJSON,
		&stepError,
		&step.Attempts,
		&step.StartedAt,
		&step.FinishedAt,
	)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan step: %w", err)
	}

	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &step.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if resultJSON != nil {
		if err := json.Unmarshal(resultJSON, &step.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if step.Retry, err = unmarshalRetry(retryJSON); err != nil {
		return nil, err
	}
	step.Condition = derefString(condition)
	step.Error = derefString(stepError)

	return &step, nil
}

func marshalRetry(p *domain.RetryPolicy) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal retry: %w", err)
	}
	return b, nil
}

func unmarshalRetry(b []byte) (*domain.RetryPolicy, error) {
	if b == nil || string(b) == "null" {
		return nil, nil
	}
	var p domain.RetryPolicy
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("unmarshal retry: %w", err)
	}
	return &p, nil
}
