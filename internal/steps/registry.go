package steps

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/shaiso/Stellara/internal/engine"
)

// Registry сопоставляет тег типа шага с обработчиком. Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

func NewRegistry(steps ...Step) *Registry {
	r := &Registry{steps: make(map[string]Step, len(steps))}
	for _, s := range steps {
		r.Register(s)
	}
	return r
}

// DefaultRegistry — встроенные http, delay и transform.
func DefaultRegistry() *Registry {
	return NewRegistry(NewHTTPStep(), NewDelayStep(), NewTransformStep())
}

// Register добавляет обработчик, заменяя прежний с тем же тегом.
func (r *Registry) Register(step Step) {
	r.mu.Lock()
	r.steps[step.Type()] = step
	r.mu.Unlock()
}

func (r *Registry) Get(stepType string) (Step, error) {
	r.mu.RLock()
	step, ok := r.steps[stepType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStepNotFound, stepType)
	}
	return step, nil
}

func (r *Registry) Has(stepType string) bool {
	_, err := r.Get(stepType)
	return err == nil
}

// Checker — проверка тегов при создании workflow.
func (r *Registry) Checker() engine.TypeChecker { return r.Has }

// Types возвращает теги по алфавиту.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.steps))
}
