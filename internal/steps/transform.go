package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/shaiso/Stellara/internal/engine"
)

const StepTypeTransform = "transform"

// TransformStep вычисляет новые значения из события и результатов шагов.
//
//	mappings:
//	  amount_xlm: "{{ .Event.Payload.amount }}"
//	  sender: "{{ .Event.Payload.from }}"
//	  status: "{{ .Steps.notify.Outputs.status_code }}"
//
// Каждое значение — шаблон. Результат, похожий на JSON (число, bool,
// объект, массив), кладётся в outputs уже разобранным.
type TransformStep struct{}

func NewTransformStep() *TransformStep { return &TransformStep{} }

func (s *TransformStep) Type() string { return StepTypeTransform }

func (s *TransformStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, err)
	}

	mappings := GetConfigMapString(req.Config, "mappings")
	tmplCtx := req.TemplateContext
	if tmplCtx == nil {
		tmplCtx = engine.NewContext(&req.Event)
	}

	outputs := make(map[string]any, len(mappings))
	// Порядок ключей фиксирован, чтобы ошибка всегда указывала на одно поле.
	for _, key := range slices.Sorted(maps.Keys(mappings)) {
		rendered, err := engine.Render(mappings[key], tmplCtx)
		if err != nil {
			return nil, fmt.Errorf("%s: mapping %q: %w", StepTypeTransform, key, err)
		}
		outputs[key] = s.parseValue(rendered)
	}
	return NewResponse(outputs), nil
}

// parseValue превращает JSON-литерал в значение: целые в int64,
// дробные в float64, объекты и массивы в map/slice.
// Строки в кавычках, null и не-JSON остаются исходной строкой.
func (s *TransformStep) parseValue(value string) any {
	dec := json.NewDecoder(strings.NewReader(value))
	dec.UseNumber()

	var v any
	if dec.Decode(&v) != nil || dec.More() {
		return value
	}

	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
	case bool, map[string]any, []any:
		return x
	}
	return value
}
