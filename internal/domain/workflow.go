package domain

import (
	"time"

	"github.com/google/uuid"
)

// Workflow — пользовательская автоматизация: упорядоченные шаги,
// запускаемые событием из ledger.
//
// Workflow одноразовый: после активации он проходит шаги один раз
// и останавливается в терминальном статусе.
type Workflow struct {
	// ID — уникальный идентификатор workflow.
	ID uuid.UUID `json:"id" yaml:"-"`

	// OwnerID — пользователь-владелец (из auth-границы, не проверяется).
	OwnerID string `json:"owner_id" yaml:"-"`

	// Name — человекочитаемое имя.
	Name string `json:"name" yaml:"name"`

	// Description — описание назначения.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Trigger — предикат, по которому событие запускает workflow.
	Trigger TriggerPredicate `json:"trigger" yaml:"trigger"`

	// Retry — политика повторов по умолчанию для всех шагов.
	Retry *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`

	// Steps — шаги, отсортированные по Position.
	Steps []WorkflowStep `json:"steps" yaml:"steps"`

	// Status — текущий статус.
	Status WorkflowStatus `json:"status" yaml:"-"`

	// Error — причина FAILED.
	Error string `json:"error,omitempty" yaml:"-"`

	CreatedAt   time.Time  `json:"created_at" yaml:"-"`
	ActivatedAt *time.Time `json:"activated_at,omitempty" yaml:"-"`
	StartedAt   *time.Time `json:"started_at,omitempty" yaml:"-"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"-"`
}

// WorkflowStep — один шаг workflow.
type WorkflowStep struct {
	ID         uuid.UUID `json:"id" yaml:"-"`
	WorkflowID uuid.UUID `json:"workflow_id" yaml:"-"`

	// Position — порядковый номер, 0..n-1 без пропусков.
	Position int `json:"position" yaml:"-"`

	// Name — уникальное в рамках workflow имя.
	// Результат доступен следующим шагам через {{ .Steps.<name>.field }}.
	Name string `json:"name" yaml:"name"`

	// Type — тег обработчика в реестре: "http", "delay", "transform".
	Type string `json:"type" yaml:"type"`

	// Config — конфигурация шага, непрозрачная для движка.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// Condition — Go template, возвращающий bool.
	// Ложное условие переводит шаг в SKIPPED.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Retry — переопределяет Workflow.Retry.
	Retry *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`

	// TimeoutSec — жёсткий таймаут обработчика, 0 — таймаут по умолчанию.
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`

	Status     StepStatus     `json:"status" yaml:"-"`
	Result     map[string]any `json:"result,omitempty" yaml:"-"`
	Error      string         `json:"error,omitempty" yaml:"-"`
	Attempts   int            `json:"attempts" yaml:"-"`
	StartedAt  *time.Time     `json:"started_at,omitempty" yaml:"-"`
	FinishedAt *time.Time     `json:"finished_at,omitempty" yaml:"-"`
}

// RetryPolicy — политика повторных попыток.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// Backoff — стратегия задержки: "fixed", "linear", "exponential".
	Backoff string `json:"backoff,omitempty" yaml:"backoff,omitempty"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
}

// InitialDelay возвращает начальную задержку как Duration.
func (p *RetryPolicy) InitialDelay() time.Duration {
	return time.Duration(p.InitialDelayMs) * time.Millisecond
}

// MaxDelay возвращает максимальную задержку как Duration.
func (p *RetryPolicy) MaxDelay() time.Duration {
	return time.Duration(p.MaxDelayMs) * time.Millisecond
}

// EffectiveRetry выбирает политику шага: шаг → workflow → def.
// Незаполненные поля берутся из def.
func (w *Workflow) EffectiveRetry(step *WorkflowStep, def RetryPolicy) RetryPolicy {
	p := def
	for _, src := range []*RetryPolicy{w.Retry, step.Retry} {
		if src == nil {
			continue
		}
		if src.MaxAttempts > 0 {
			p.MaxAttempts = src.MaxAttempts
		}
		if src.Backoff != "" {
			p.Backoff = src.Backoff
		}
		if src.InitialDelayMs > 0 {
			p.InitialDelayMs = src.InitialDelayMs
		}
		if src.MaxDelayMs > 0 {
			p.MaxDelayMs = src.MaxDelayMs
		}
	}
	return p
}

// Step возвращает шаг по ID.
func (w *Workflow) Step(id uuid.UUID) *WorkflowStep {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// ActiveStep возвращает шаг в QUEUED или RUNNING, если такой есть.
func (w *Workflow) ActiveStep() *WorkflowStep {
	for i := range w.Steps {
		if w.Steps[i].Status.IsActive() {
			return &w.Steps[i]
		}
	}
	return nil
}

// StepResults собирает результаты завершённых шагов по имени.
func (w *Workflow) StepResults() map[string]map[string]any {
	results := make(map[string]map[string]any)
	for _, s := range w.Steps {
		if s.Status == StepStatusSucceeded {
			results[s.Name] = s.Result
		}
	}
	return results
}

// Activation — факт запуска workflow событием.
// Первичный ключ (WorkflowID, EventID) — ключ идемпотентности.
type Activation struct {
	WorkflowID  uuid.UUID      `json:"workflow_id"`
	EventID     string         `json:"event_id"`
	EventType   string         `json:"event_type"`
	Sequence    int64          `json:"sequence"`
	Payload     map[string]any `json:"payload,omitempty"`
	ActivatedAt time.Time      `json:"activated_at"`
}

// Event восстанавливает событие, запустившее workflow.
func (a *Activation) Event() LedgerEvent {
	return LedgerEvent{
		ID:       a.EventID,
		Type:     a.EventType,
		Sequence: a.Sequence,
		Payload:  a.Payload,
	}
}
