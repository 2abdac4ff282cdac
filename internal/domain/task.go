package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueTask — задание в очереди шагов.
//
// Держит слабую ссылку на WorkflowStep: записи очереди можно чистить
// независимо от истории шагов. У одного workflow в очереди не больше
// одного задания, поэтому шаг N+1 не может быть выдан раньше шага N.
type QueueTask struct {
	ID         uuid.UUID `json:"id"`
	StepID     uuid.UUID `json:"step_id"`
	WorkflowID uuid.UUID `json:"workflow_id"`

	// Position — позиция шага (для логов и упорядочивания).
	Position int `json:"position"`

	// AvailableAt — раньше этого момента задание невидимо (retry delay).
	AvailableAt time.Time `json:"available_at"`

	// Attempt — сколько раз задание было выдано воркерам.
	// Увеличивается при каждом lease.
	Attempt int `json:"attempt"`

	// LeaseToken — токен текущей аренды, uuid.Nil если не арендовано.
	LeaseToken uuid.UUID `json:"lease_token"`

	// LeasedBy — ID воркера-арендатора.
	LeasedBy string `json:"leased_by,omitempty"`

	// LeasedUntil — окончание аренды (visibility timeout).
	LeasedUntil *time.Time `json:"leased_until,omitempty"`

	// LastError — ошибка предыдущей попытки.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsLeased возвращает true, если аренда действует на момент now.
func (t *QueueTask) IsLeased(now time.Time) bool {
	return t.LeasedUntil != nil && t.LeasedUntil.After(now)
}

// IsVisible возвращает true, если задание можно арендовать на момент now.
func (t *QueueTask) IsVisible(now time.Time) bool {
	return !t.AvailableAt.After(now) && !t.IsLeased(now)
}

// Lease оформляет аренду задания.
func (t *QueueTask) Lease(workerID string, token uuid.UUID, until time.Time) {
	t.Attempt++
	t.LeaseToken = token
	t.LeasedBy = workerID
	t.LeasedUntil = &until
}

// ClearLease снимает аренду и откладывает задание до availableAt.
func (t *QueueTask) ClearLease(availableAt time.Time) {
	t.LeaseToken = uuid.Nil
	t.LeasedBy = ""
	t.LeasedUntil = nil
	t.AvailableAt = availableAt
}

// DeadLetter — задание, исчерпавшее попытки. Требует ручного вмешательства.
type DeadLetter struct {
	ID         uuid.UUID  `json:"id"`
	TaskID     uuid.UUID  `json:"task_id"`
	StepID     uuid.UUID  `json:"step_id"`
	WorkflowID uuid.UUID  `json:"workflow_id"`
	Attempts   int        `json:"attempts"`
	Reason     string     `json:"reason"`
	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
}

// Outcome — результат одной попытки шага, который воркер сообщает в Advance.
type Outcome struct {
	Status OutcomeStatus  `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Reason FailureReason  `json:"reason,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Succeeded создаёт успешный Outcome.
func Succeeded(result map[string]any) Outcome {
	return Outcome{Status: OutcomeSucceeded, Result: result}
}

// Failed создаёт неуспешный Outcome.
func Failed(reason FailureReason, err error) Outcome {
	o := Outcome{Status: OutcomeFailed, Reason: reason}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// QueueStats — срез состояния очереди для метрик.
type QueueStats struct {
	Ready       int `json:"ready"`
	Delayed     int `json:"delayed"`
	Leased      int `json:"leased"`
	Expired     int `json:"expired"`
	DeadLetters int `json:"dead_letters"`
}
