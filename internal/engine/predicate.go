package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shaiso/Stellara/internal/domain"
)

// Операторы условий.
const (
	OpEq        = "eq"
	OpNe        = "ne"
	OpGt        = "gt"
	OpGte       = "gte"
	OpLt        = "lt"
	OpLte       = "lte"
	OpExists    = "exists"
	OpNotExists = "not_exists"
	OpIn        = "in"
	OpContains  = "contains"
	OpPrefix    = "prefix"
)

// AnyEventType — триггер на события любого типа.
const AnyEventType = "*"

// ValidatePredicate проверяет структуру предиката без события.
func ValidatePredicate(p *domain.TriggerPredicate) error {
	if p.EventType == "" {
		return NewValidationError("", "trigger.event_type", "trigger has empty event type", ErrEmptyEventType)
	}
	for i := range p.Conditions {
		if err := validateCondition(&p.Conditions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateCondition(c *domain.Condition) error {
	if c.Field == "" {
		return fmt.Errorf("%w: op %s", ErrEmptyField, c.Op)
	}
	switch c.Op {
	case OpEq, OpNe, OpContains:
		if c.Value == nil {
			return fmt.Errorf("%w: %s %s needs a value", ErrBadOperand, c.Field, c.Op)
		}
	case OpGt, OpGte, OpLt, OpLte:
		if _, ok := toFloat(c.Value); !ok {
			return fmt.Errorf("%w: %s %s needs a number, got %v", ErrBadOperand, c.Field, c.Op, c.Value)
		}
	case OpIn:
		if _, ok := c.Value.([]any); !ok {
			return fmt.Errorf("%w: %s in needs a list, got %T", ErrBadOperand, c.Field, c.Value)
		}
	case OpPrefix:
		if _, ok := c.Value.(string); !ok {
			return fmt.Errorf("%w: %s prefix needs a string", ErrBadOperand, c.Field)
		}
	case OpExists, OpNotExists:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, c.Op)
	}
	return nil
}

// EvaluatePredicate проверяет, подходит ли событие под предикат.
//
// Событие другого типа не подходит (false, nil). Все условия
// объединяются через AND. Ошибка возвращается только для
// некорректного предиката; нечисловое поле payload в сравнении
// просто не проходит условие.
func EvaluatePredicate(p *domain.TriggerPredicate, ev *domain.LedgerEvent) (bool, error) {
	if err := ValidatePredicate(p); err != nil {
		return false, err
	}
	if p.EventType != AnyEventType && p.EventType != ev.Type {
		return false, nil
	}

	for i := range p.Conditions {
		ok, err := evalCondition(&p.Conditions[i], ev.Payload)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalCondition(c *domain.Condition, payload map[string]any) (bool, error) {
	actual, found := Lookup(payload, c.Field)

	switch c.Op {
	case OpExists:
		return found, nil
	case OpNotExists:
		return !found, nil
	}

	if !found {
		// ne для отсутствующего поля истинно
		return c.Op == OpNe, nil
	}

	switch c.Op {
	case OpEq:
		return equal(actual, c.Value), nil
	case OpNe:
		return !equal(actual, c.Value), nil
	case OpGt, OpGte, OpLt, OpLte:
		a, ok := toFloat(actual)
		if !ok {
			return false, nil
		}
		b, _ := toFloat(c.Value)
		switch c.Op {
		case OpGt:
			return a > b, nil
		case OpGte:
			return a >= b, nil
		case OpLt:
			return a < b, nil
		default:
			return a <= b, nil
		}
	case OpIn:
		for _, v := range c.Value.([]any) {
			if equal(actual, v) {
				return true, nil
			}
		}
		return false, nil
	case OpContains:
		switch a := actual.(type) {
		case string:
			return strings.Contains(a, fmt.Sprint(c.Value)), nil
		case []any:
			for _, v := range a {
				if equal(v, c.Value) {
					return true, nil
				}
			}
		}
		return false, nil
	case OpPrefix:
		s, ok := actual.(string)
		return ok && strings.HasPrefix(s, c.Value.(string)), nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownOp, c.Op)
}

// Lookup достаёт значение по пути через точку: "asset.code".
func Lookup(payload map[string]any, path string) (any, bool) {
	var cur any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// equal сравнивает значения: числа численно, остальное по строковому виду.
// Horizon отдаёт суммы строками ("100.0000000"), поэтому "100" == 100.
func equal(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
