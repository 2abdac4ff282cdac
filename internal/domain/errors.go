package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Таксономия ошибок движка.
var (
	// ErrIllegalTransition — нарушение графа состояний workflow или шага.
	// Ошибка клиента, не ретраится.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrAlreadyRunning — workflow уже запущен тем же событием.
	// Идемпотентный no-op.
	ErrAlreadyRunning = errors.New("workflow already running from this event")

	// ErrTransientInfra — временная ошибка БД, очереди или ledger.
	// Ретраится с backoff, наружу не выходит.
	ErrTransientInfra = errors.New("transient infrastructure error")

	// ErrActionFailure — обработчик шага вернул ошибку.
	// Расходует попытку шага.
	ErrActionFailure = errors.New("action failure")

	// ErrTimeout — обработчик шага превысил таймаут.
	// Учитывается так же, как ErrActionFailure.
	ErrTimeout = errors.New("action timeout")

	// ErrPredicate — некорректный предикат триггера.
	// Изолируется на уровне одного workflow.
	ErrPredicate = errors.New("malformed trigger predicate")

	// ErrInvalidWorkflow — определение workflow не прошло валидацию.
	ErrInvalidWorkflow = errors.New("invalid workflow definition")
)

// TransitionError описывает отклонённый переход.
type TransitionError struct {
	Entity string // "workflow" или "step"
	ID     uuid.UUID
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s → %s (id=%s)", e.Entity, e.From, e.To, e.ID)
}

// Unwrap позволяет errors.Is(err, ErrIllegalTransition).
func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// NewWorkflowTransitionError создаёт ошибку перехода workflow.
func NewWorkflowTransitionError(id uuid.UUID, from, to WorkflowStatus) *TransitionError {
	return &TransitionError{Entity: "workflow", ID: id, From: string(from), To: string(to)}
}

// NewStepTransitionError создаёт ошибку перехода шага.
func NewStepTransitionError(id uuid.UUID, from, to StepStatus) *TransitionError {
	return &TransitionError{Entity: "step", ID: id, From: string(from), To: string(to)}
}

// PredicateError — ошибка вычисления предиката конкретного workflow.
type PredicateError struct {
	WorkflowID uuid.UUID
	Err        error
}

func (e *PredicateError) Error() string {
	return fmt.Sprintf("workflow %s: %v", e.WorkflowID, e.Err)
}

// Unwrap позволяет errors.Is(err, ErrPredicate).
func (e *PredicateError) Unwrap() []error {
	return []error{ErrPredicate, e.Err}
}

// Transient помечает ошибку как временную.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransientInfra) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientInfra, err)
}

// IsTransient проверяет, можно ли повторить операцию.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientInfra)
}
