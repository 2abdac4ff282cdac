package domain

// WorkflowStatus — статус workflow.
//
// Жизненный цикл:
//
//	DRAFT → ACTIVE → RUNNING → COMPLETED
//	                         ↘ FAILED
//	(из любого нетерминального) → CANCELLED
type WorkflowStatus string

const (
	// WorkflowStatusDraft — черновик, можно редактировать, не реагирует на события.
	WorkflowStatusDraft WorkflowStatus = "DRAFT"

	// WorkflowStatusActive — опубликован, ждёт подходящего события.
	WorkflowStatusActive WorkflowStatus = "ACTIVE"

	// WorkflowStatusRunning — активирован событием, шаги выполняются.
	WorkflowStatusRunning WorkflowStatus = "RUNNING"

	// WorkflowStatusCompleted — все шаги SUCCEEDED или SKIPPED.
	WorkflowStatusCompleted WorkflowStatus = "COMPLETED"

	// WorkflowStatusFailed — шаг исчерпал попытки.
	WorkflowStatusFailed WorkflowStatus = "FAILED"

	// WorkflowStatusCancelled — отменён пользователем.
	WorkflowStatusCancelled WorkflowStatus = "CANCELLED"
)

var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusDraft:   {WorkflowStatusActive, WorkflowStatusCancelled},
	WorkflowStatusActive:  {WorkflowStatusRunning, WorkflowStatusCancelled},
	WorkflowStatusRunning: {WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled},
}

// IsTerminal возвращает true, если статус финальный.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет, допустим ли переход s → next.
func (s WorkflowStatus) CanTransitionTo(next WorkflowStatus) bool {
	for _, allowed := range workflowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsValid проверяет, что статус известен.
func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusRunning,
		WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus — статус шага workflow.
//
// Жизненный цикл:
//
//	PENDING → QUEUED → RUNNING → SUCCEEDED
//	                           ↘ FAILED (retry → обратно в QUEUED)
//	PENDING, QUEUED → SKIPPED (отмена или ложное условие)
type StepStatus string

const (
	// StepStatusPending — шаг ждёт своей очереди.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusQueued — task для шага лежит в очереди.
	StepStatusQueued StepStatus = "QUEUED"

	// StepStatusRunning — шаг выполняется воркером.
	StepStatusRunning StepStatus = "RUNNING"

	// StepStatusSucceeded — шаг успешно завершён.
	StepStatusSucceeded StepStatus = "SUCCEEDED"

	// StepStatusFailed — попытка завершилась ошибкой.
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusSkipped — шаг не будет выполняться.
	StepStatusSkipped StepStatus = "SKIPPED"
)

var stepTransitions = map[StepStatus][]StepStatus{
	StepStatusPending: {StepStatusQueued, StepStatusSkipped},
	StepStatusQueued:  {StepStatusRunning, StepStatusSkipped},
	StepStatusRunning: {StepStatusSucceeded, StepStatusFailed},
	StepStatusFailed:  {StepStatusQueued},
}

// IsTerminal возвращает true, если шаг больше не будет выполняться.
// FAILED не терминален: из него есть ребро retry.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusSucceeded || s == StepStatusSkipped
}

// IsActive возвращает true для QUEUED и RUNNING.
// У workflow в каждый момент не больше одного активного шага.
func (s StepStatus) IsActive() bool {
	return s == StepStatusQueued || s == StepStatusRunning
}

// CanTransitionTo проверяет, допустим ли переход s → next.
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	for _, allowed := range stepTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OutcomeStatus — итог одной попытки шага.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "SUCCEEDED"
	OutcomeFailed    OutcomeStatus = "FAILED"
)

// FailureReason — типизированная причина неудачи попытки.
type FailureReason string

const (
	// ReasonActionFailure — обработчик вернул бизнес-ошибку.
	ReasonActionFailure FailureReason = "ACTION_FAILURE"

	// ReasonTimeout — обработчик не уложился в таймаут.
	ReasonTimeout FailureReason = "TIMEOUT"

	// ReasonLeaseExpired — воркер пропал, аренда истекла.
	ReasonLeaseExpired FailureReason = "LEASE_EXPIRED"

	// ReasonUnknownType — для типа шага нет обработчика.
	ReasonUnknownType FailureReason = "UNKNOWN_STEP_TYPE"
)
