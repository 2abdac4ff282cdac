package steps

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stellara/internal/domain"
	"github.com/shaiso/Stellara/internal/engine"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — тип шага не найден в реестре.
	ErrStepNotFound = errors.New("step type not found")

	// ErrInvalidConfig — невалидная конфигурация шага.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrStepCancelled — выполнение шага отменено (таймаут или остановка воркера).
	ErrStepCancelled = errors.New("step execution cancelled")
)

// Step — обработчик одного типа шага.
//
// Гарантия доставки — at-least-once: одна и та же попытка может
// выполниться повторно после истечения аренды, поэтому обработчик
// должен быть идемпотентным.
type Step interface {
	// Type возвращает тег типа ("http", "delay", "transform").
	Type() string

	// Execute выполняет шаг. Обязан реагировать на ctx.Done().
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request — входные данные одной попытки шага.
type Request struct {
	WorkflowID uuid.UUID
	StepID     uuid.UUID
	StepName   string

	// Attempt — номер попытки, начиная с 1.
	Attempt int

	// Event — событие ledger, запустившее workflow.
	Event domain.LedgerEvent

	// Config — конфигурация, уже отрендеренная через engine.RenderConfig.
	Config map[string]any

	// TemplateContext — событие и результаты предыдущих шагов.
	TemplateContext *engine.Context

	// Timeout — жёсткий таймаут попытки, 0 — без собственного таймаута.
	Timeout time.Duration
}

// Response — результат шага.
type Response struct {
	// Outputs доступны следующим шагам через {{ .Steps.<name>.Outputs.field }}.
	Outputs map[string]any
}

// NewResponse создаёт Response с outputs.
func NewResponse(outputs map[string]any) *Response {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	return &Response{Outputs: outputs}
}

// EmptyResponse возвращает пустой Response.
func EmptyResponse() *Response {
	return NewResponse(nil)
}

// Хелперы ниже читают значения из отрендеренной конфигурации.
// После рендеринга шаблонов числа и bool часто приходят строками,
// поэтому строки тоже разбираются.

func GetConfigString(config map[string]any, key string) string {
	s, _ := config[key].(string)
	return s
}

// GetConfigInt возвращает 0, если значения нет или оно не число.
func GetConfigInt(config map[string]any, key string) int {
	switch n := config[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	}
	return 0
}

func GetConfigBool(config map[string]any, key string, fallback bool) bool {
	switch b := config[key].(type) {
	case bool:
		return b
	case string:
		if v, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return v
		}
	}
	return fallback
}

func GetConfigMap(config map[string]any, key string) map[string]any {
	m, _ := config[key].(map[string]any)
	return m
}

// GetConfigMapString оставляет только строковые значения.
func GetConfigMapString(config map[string]any, key string) map[string]string {
	if m, ok := config[key].(map[string]string); ok {
		return m
	}
	raw, ok := config[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
