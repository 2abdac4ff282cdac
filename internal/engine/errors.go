package engine

import "errors"

// Ошибки валидации workflow.
var (
	// ErrEmptyName — у workflow нет имени.
	ErrEmptyName = errors.New("workflow has empty name")

	// ErrEmptySteps — workflow не содержит шагов.
	ErrEmptySteps = errors.New("workflow has no steps")

	// ErrEmptyStepName — шаг не имеет имени.
	ErrEmptyStepName = errors.New("step has empty name")

	// ErrDuplicateStepName — несколько шагов с одинаковым именем.
	ErrDuplicateStepName = errors.New("duplicate step name")

	// ErrUnknownStepType — неизвестный тип шага.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrPositionGap — позиции шагов не образуют 0..n-1.
	ErrPositionGap = errors.New("step positions are not contiguous")

	// ErrInvalidRetry — некорректная политика повторов.
	ErrInvalidRetry = errors.New("invalid retry policy")
)

// Ошибки предикатов.
var (
	// ErrEmptyEventType — предикат не указывает тип события.
	ErrEmptyEventType = errors.New("trigger has empty event type")

	// ErrEmptyField — условие без поля.
	ErrEmptyField = errors.New("condition has empty field")

	// ErrUnknownOp — неизвестный оператор.
	ErrUnknownOp = errors.New("unknown condition operator")

	// ErrBadOperand — значение условия не подходит оператору.
	ErrBadOperand = errors.New("condition value does not fit operator")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Step    string // имя шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Step != "" {
		return "step " + e.Step + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(step, field, message string, err error) *ValidationError {
	return &ValidationError{
		Step:    step,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
