package worker

import "errors"

// Ошибки воркера.
var (
	// ErrExecutionTimeout — обработчик не уложился в таймаут шага.
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrHandlerPanic — обработчик шага запаниковал.
	ErrHandlerPanic = errors.New("step handler panicked")
)
