package engine

import (
	"fmt"
	"text/template"

	"github.com/shaiso/Stellara/internal/domain"
)

// Допустимые типы шагов по умолчанию.
var validStepTypes = map[string]bool{
	"http":      true,
	"delay":     true,
	"transform": true,
}

// TypeChecker сообщает, есть ли обработчик для типа шага.
type TypeChecker func(stepType string) bool

// Normalize проставляет позиции шагов по порядку в слайсе.
func Normalize(wf *domain.Workflow) {
	for i := range wf.Steps {
		wf.Steps[i].Position = i
	}
}

// Validate выполняет полную валидацию workflow.
//
// Проверяет:
//   - имя и наличие шагов
//   - предикат триггера
//   - уникальность имён шагов и непрерывность позиций
//   - типы шагов (через known, nil — встроенный список)
//   - синтаксис условий
func Validate(wf *domain.Workflow, known TypeChecker) error {
	if wf == nil || len(wf.Steps) == 0 {
		return ErrEmptySteps
	}
	if wf.Name == "" {
		return NewValidationError("", "name", "workflow has empty name", ErrEmptyName)
	}

	if err := ValidatePredicate(&wf.Trigger); err != nil {
		return err
	}

	if err := validateRetry("", wf.Retry); err != nil {
		return err
	}

	if known == nil {
		known = IsValidStepType
	}

	names := make(map[string]bool, len(wf.Steps))
	for i := range wf.Steps {
		step := &wf.Steps[i]

		if step.Position != i {
			return NewValidationError(step.Name, "position",
				fmt.Sprintf("expected position %d, got %d", i, step.Position), ErrPositionGap)
		}
		if err := ValidateStep(step, names, known); err != nil {
			return err
		}
	}

	return nil
}

// ValidateStep валидирует один шаг.
// names — уже встреченные имена шагов (для проверки уникальности).
func ValidateStep(step *domain.WorkflowStep, names map[string]bool, known TypeChecker) error {
	if step.Name == "" {
		return NewValidationError("", "name", "step has empty name", ErrEmptyStepName)
	}
	if names[step.Name] {
		return NewValidationError(step.Name, "name",
			fmt.Sprintf("duplicate step name: %s", step.Name), ErrDuplicateStepName)
	}
	names[step.Name] = true

	if step.Type == "" || !known(step.Type) {
		return NewValidationError(step.Name, "type",
			fmt.Sprintf("unknown step type: %q", step.Type), ErrUnknownStepType)
	}

	if step.Condition != "" {
		src := fmt.Sprintf(`{{if %s}}true{{else}}false{{end}}`, step.Condition)
		if _, err := template.New("").Funcs(funcs).Parse(src); err != nil {
			return NewValidationError(step.Name, "condition", err.Error(), ErrTemplateParse)
		}
	}

	if step.TimeoutSec < 0 {
		return NewValidationError(step.Name, "timeout_sec", "negative timeout", ErrInvalidRetry)
	}

	return validateRetry(step.Name, step.Retry)
}

func validateRetry(step string, p *domain.RetryPolicy) error {
	if p == nil {
		return nil
	}
	if p.MaxAttempts < 0 || p.InitialDelayMs < 0 || p.MaxDelayMs < 0 {
		return NewValidationError(step, "retry", "negative retry values", ErrInvalidRetry)
	}
	switch p.Backoff {
	case "", "fixed", "linear", "exponential":
	default:
		return NewValidationError(step, "retry.backoff",
			fmt.Sprintf("unknown backoff: %s", p.Backoff), ErrInvalidRetry)
	}
	return nil
}

// IsValidStepType проверяет, является ли тип шага встроенным.
func IsValidStepType(stepType string) bool {
	return validStepTypes[stepType]
}
