package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"github.com/shaiso/Stellara/internal/domain"
)

// Context — данные, доступные шаблонам конфигурации шага:
//
//	{{ .Event.Payload.amount }}   {{ .Event.Type }}   {{ .Event.Sequence }}
//	{{ .Workflow.Name }}          {{ .Steps.<name>.Outputs.<field> }}
//	{{ .Env.HOOK_TOKEN }}
type Context struct {
	Event    EventContext            `json:"event"`
	Workflow WorkflowContext         `json:"workflow"`
	Steps    map[string]*StepContext `json:"steps"`
	Env      map[string]string       `json:"env"`
}

type EventContext struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Sequence int64          `json:"sequence"`
	Payload  map[string]any `json:"payload"`
}

type WorkflowContext struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

// StepContext — итог завершённого шага (SUCCEEDED или SKIPPED).
type StepContext struct {
	Outputs map[string]any `json:"outputs"`
	Status  string         `json:"status"`
}

// NewContext строит контекст только из события; ev может быть nil.
func NewContext(ev *domain.LedgerEvent) *Context {
	c := &Context{
		Steps: map[string]*StepContext{},
		Env:   map[string]string{},
	}
	if ev != nil {
		c.Event = EventContext{ID: ev.ID, Type: ev.Type, Sequence: ev.Sequence, Payload: ev.Payload}
	}
	if c.Event.Payload == nil {
		c.Event.Payload = map[string]any{}
	}
	return c
}

// ForWorkflow добавляет к событию сведения о workflow и результаты
// всех уже завершённых шагов.
func ForWorkflow(ev *domain.LedgerEvent, wf *domain.Workflow) *Context {
	c := NewContext(ev)
	c.Workflow = WorkflowContext{ID: wf.ID.String(), Name: wf.Name, OwnerID: wf.OwnerID}
	for _, s := range wf.Steps {
		switch s.Status {
		case domain.StepStatusSucceeded, domain.StepStatusSkipped:
			c.AddStepResult(s.Name, s.Result, string(s.Status))
		}
	}
	return c
}

func (c *Context) AddStepResult(name string, outputs map[string]any, status string) {
	if outputs == nil {
		outputs = map[string]any{}
	}
	c.Steps[name] = &StepContext{Outputs: outputs, Status: status}
}

func (c *Context) SetEnv(key, value string) {
	c.Env[key] = value
}

// stroopsPerUnit — в Stellar у сумм 7 знаков после запятой.
const stroopsPerUnit = 7

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"fromJSON": func(s string) any {
		var v any
		if json.Unmarshal([]byte(s), &v) != nil {
			return nil
		}
		return v
	},
	"default":  func(def, v any) any { return coalesce(v, def) },
	"coalesce": coalesce,
	"lookup": func(path string, m map[string]any) any {
		v, _ := Lookup(m, path)
		return v
	},
	// num: суммы Horizon приходят строками.
	"num": func(v any) float64 {
		f, _ := toFloat(v)
		return f
	},
	"stroops":   toStroops,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"replace":   strings.ReplaceAll,
	"split":     func(sep, s string) []string { return strings.Split(s, sep) },
	"join":      func(sep string, items []string) string { return strings.Join(items, sep) },
}

// coalesce возвращает первое значение, не равное nil и не пустой строке.
func coalesce(values ...any) any {
	for _, v := range values {
		if s, ok := v.(string); (ok && s != "") || (!ok && v != nil) {
			return v
		}
	}
	return nil
}

// toStroops переводит сумму вида "12.5" в целое число stroops (125000000).
func toStroops(v any) (int64, error) {
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return 0, fmt.Errorf("stroops: empty amount")
	}
	whole, frac, _ := strings.Cut(s, ".")
	if strings.ContainsAny(frac, "+-") {
		return 0, fmt.Errorf("stroops: bad amount %q", s)
	}
	if len(frac) > stroopsPerUnit {
		return 0, fmt.Errorf("stroops: %q has more than %d decimals", s, stroopsPerUnit)
	}
	frac += strings.Repeat("0", stroopsPerUnit-len(frac))

	neg := strings.HasPrefix(whole, "-")
	w, err := strconv.ParseInt(strings.TrimPrefix(whole, "-"), 10, 64)
	if err != nil && whole != "" && whole != "-" {
		return 0, fmt.Errorf("stroops: bad amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stroops: bad amount %q", s)
	}
	n := w*10_000_000 + f
	if neg {
		n = -n
	}
	return n, nil
}

// Скомпилированные шаблоны: одни и те же конфигурации шагов рендерятся
// на каждой активации.
var (
	cacheMu  sync.Mutex
	compiled = map[string]*template.Template{}
)

const maxCompiled = 1024

func compile(src string) (*template.Template, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if t, ok := compiled[src]; ok {
		return t, nil
	}
	t, err := template.New("").Funcs(funcs).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}
	if len(compiled) >= maxCompiled {
		clear(compiled)
	}
	compiled[src] = t
	return t, nil
}

// Render подставляет ctx в строку. Строки без "{{" возвращаются как есть.
func Render(src string, ctx *Context) (string, error) {
	if !strings.Contains(src, "{{") {
		return src, nil
	}
	t, err := compile(src)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := t.Execute(&sb, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return sb.String(), nil
}

// RenderValue рендерит строки внутри произвольной структуры из map и slice.
// Числа, bool и прочие значения не меняются.
func RenderValue(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case string:
		return Render(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			r, err := RenderValue(item, ctx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := RenderValue(item, ctx)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, item := range v {
			r, err := Render(item, ctx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

// RenderConfig рендерит конфигурацию шага; nil даёт пустую map.
func RenderConfig(config map[string]any, ctx *Context) (map[string]any, error) {
	if config == nil {
		return map[string]any{}, nil
	}
	rendered, err := RenderValue(config, ctx)
	if err != nil {
		return nil, err
	}
	return rendered.(map[string]any), nil
}

// RenderCondition вычисляет условие шага как выражение if шаблона.
// Пустое условие истинно.
func RenderCondition(condition string, ctx *Context) (bool, error) {
	if strings.TrimSpace(condition) == "" {
		return true, nil
	}
	out, err := Render("{{if "+condition+"}}true{{end}}", ctx)
	if err != nil {
		return false, err
	}
	return out == "true", nil
}
