package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrWorkflowNotFound — workflow не найден в БД.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrStepNotFound — шаг не найден.
	ErrStepNotFound = errors.New("step not found")

	// ErrDeadLetterNotFound — dead-letter запись не найдена.
	ErrDeadLetterNotFound = errors.New("dead letter not found")

	// ErrStaleOutcome — результат попытки, которая уже не актуальна
	// (повторная доставка, истёкшая аренда, таймаут). Ничего не меняет.
	ErrStaleOutcome = errors.New("stale step outcome")

	// ErrStaleTask — задание ссылается на удалённый или завершённый шаг.
	// Задание удаляется из очереди.
	ErrStaleTask = errors.New("stale queue task")

	// ErrWorkflowNotRunning — workflow отменён или завершён, пока задание ждало.
	ErrWorkflowNotRunning = errors.New("workflow is not running")

	// ErrAttemptsExhausted — задание выдано больше раз, чем разрешено.
	ErrAttemptsExhausted = errors.New("step attempts exhausted")

	// ErrAlreadyReplayed — dead-letter запись уже переиграна.
	ErrAlreadyReplayed = errors.New("dead letter already replayed")

	// ErrActivationPurged — запись активации удалена обслуживанием,
	// событие для повторного шага взять неоткуда.
	ErrActivationPurged = errors.New("workflow activation purged")
)
