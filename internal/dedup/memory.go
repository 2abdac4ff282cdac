package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryWindow — окно в памяти процесса. Для тестов и одиночного монитора.
type MemoryWindow struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

// NewMemoryWindow создаёт окно в памяти. clock может быть nil.
func NewMemoryWindow(clock func() time.Time) *MemoryWindow {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryWindow{
		keys: make(map[string]time.Time),
		now:  clock,
	}
}

// Seen реализует Window.
func (w *MemoryWindow) Seen(_ context.Context, key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	exp, ok := w.keys[key]
	return ok && exp.After(w.now()), nil
}

// Mark реализует Window.
func (w *MemoryWindow) Mark(_ context.Context, key string, ttl time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.keys[key] = now.Add(ttl)
	w.gc(now)
	return nil
}

// Len возвращает число живых ключей.
func (w *MemoryWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gc(w.now())
	return len(w.keys)
}

func (w *MemoryWindow) gc(now time.Time) {
	for k, exp := range w.keys {
		if !exp.After(now) {
			delete(w.keys, k)
		}
	}
}
