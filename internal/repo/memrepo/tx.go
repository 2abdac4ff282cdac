package memrepo

import (
	"context"

	"github.com/google/uuid"
	"github.com/shaiso/Stellara/internal/domain"
	"github.com/shaiso/Stellara/internal/repo"
)

// memTx работает напрямую с состоянием: мьютекс уже взят в WithTx.
type memTx struct {
	st *state
}

func (t *memTx) CreateWorkflow(_ context.Context, wf *domain.Workflow) error {
	if _, ok := t.st.workflows[wf.ID]; ok {
		return repo.ErrAlreadyExists
	}
	head := *wf
	head.Steps = nil
	t.st.workflows[wf.ID] = head
	for _, step := range wf.Steps {
		t.st.steps[step.ID] = step
	}
	return nil
}

func (t *memTx) DeleteWorkflow(_ context.Context, id uuid.UUID) error {
	if _, ok := t.st.workflows[id]; !ok {
		return repo.ErrNotFound
	}
	delete(t.st.workflows, id)
	for sid, step := range t.st.steps {
		if step.WorkflowID == id {
			delete(t.st.steps, sid)
		}
	}
	for k := range t.st.activations {
		if k.workflowID == id {
			delete(t.st.activations, k)
		}
	}
	return nil
}

func (t *memTx) GetWorkflowForUpdate(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	return t.st.assemble(id)
}

func (t *memTx) UpdateWorkflow(_ context.Context, wf *domain.Workflow) error {
	cur, ok := t.st.workflows[wf.ID]
	if !ok {
		return repo.ErrNotFound
	}
	cur.Status = wf.Status
	cur.Error = wf.Error
	cur.ActivatedAt = wf.ActivatedAt
	cur.StartedAt = wf.StartedAt
	cur.CompletedAt = wf.CompletedAt
	t.st.workflows[wf.ID] = cur
	return nil
}

func (t *memTx) GetStep(_ context.Context, id uuid.UUID) (*domain.WorkflowStep, error) {
	step, ok := t.st.steps[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &step, nil
}

func (t *memTx) UpdateStep(_ context.Context, step *domain.WorkflowStep) error {
	cur, ok := t.st.steps[step.ID]
	if !ok {
		return repo.ErrNotFound
	}
	cur.Status = step.Status
	cur.Result = step.Result
	cur.Error = step.Error
	cur.Attempts = step.Attempts
	cur.StartedAt = step.StartedAt
	cur.FinishedAt = step.FinishedAt
	t.st.steps[step.ID] = cur
	return nil
}

func (t *memTx) InsertActivation(_ context.Context, a *domain.Activation) error {
	key := activationKey{workflowID: a.WorkflowID, eventID: a.EventID}
	if _, ok := t.st.activations[key]; ok {
		return repo.ErrAlreadyExists
	}
	t.st.activations[key] = *a
	return nil
}

func (t *memTx) GetActivation(_ context.Context, workflowID uuid.UUID) (*domain.Activation, error) {
	var latest *domain.Activation
	for k, a := range t.st.activations {
		if k.workflowID != workflowID {
			continue
		}
		if latest == nil || a.ActivatedAt.After(latest.ActivatedAt) {
			a := a
			latest = &a
		}
	}
	if latest == nil {
		return nil, repo.ErrNotFound
	}
	return latest, nil
}

func (t *memTx) InsertTask(_ context.Context, task *domain.QueueTask) error {
	for _, existing := range t.st.tasks {
		if existing.WorkflowID == task.WorkflowID || existing.StepID == task.StepID {
			return repo.ErrAlreadyExists
		}
	}
	t.st.tasks[task.ID] = *task
	return nil
}

func (t *memTx) GetTaskByStep(_ context.Context, stepID uuid.UUID) (*domain.QueueTask, error) {
	for _, task := range t.st.tasks {
		if task.StepID == stepID {
			return &task, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (t *memTx) GetTaskByToken(_ context.Context, token uuid.UUID) (*domain.QueueTask, error) {
	if token == uuid.Nil {
		return nil, repo.ErrNotFound
	}
	for _, task := range t.st.tasks {
		if task.LeaseToken == token {
			return &task, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (t *memTx) UpdateTask(_ context.Context, task *domain.QueueTask) error {
	if _, ok := t.st.tasks[task.ID]; !ok {
		return repo.ErrNotFound
	}
	t.st.tasks[task.ID] = *task
	return nil
}

func (t *memTx) DeleteTask(_ context.Context, id uuid.UUID) error {
	if _, ok := t.st.tasks[id]; !ok {
		return repo.ErrNotFound
	}
	delete(t.st.tasks, id)
	return nil
}

func (t *memTx) DeleteTasksByWorkflow(_ context.Context, workflowID uuid.UUID) (int, error) {
	n := 0
	for id, task := range t.st.tasks {
		if task.WorkflowID == workflowID {
			delete(t.st.tasks, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertDeadLetter(_ context.Context, dl *domain.DeadLetter) error {
	if _, ok := t.st.deadLetters[dl.ID]; ok {
		return repo.ErrAlreadyExists
	}
	t.st.deadLetters[dl.ID] = *dl
	return nil
}

func (t *memTx) GetDeadLetterForUpdate(_ context.Context, id uuid.UUID) (*domain.DeadLetter, error) {
	dl, ok := t.st.deadLetters[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &dl, nil
}

func (t *memTx) UpdateDeadLetter(_ context.Context, dl *domain.DeadLetter) error {
	cur, ok := t.st.deadLetters[dl.ID]
	if !ok {
		return repo.ErrNotFound
	}
	cur.ReplayedAt = dl.ReplayedAt
	t.st.deadLetters[dl.ID] = cur
	return nil
}
