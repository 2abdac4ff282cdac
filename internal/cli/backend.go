package cli

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stellara/internal/domain"
	"github.com/shaiso/Stellara/internal/repo"
)

// Workflows — операции над workflows. Реализуется *orchestrator.Orchestrator.
type Workflows interface {
	Create(ctx context.Context, wf *domain.Workflow) (*domain.Workflow, error)
	Publish(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	List(ctx context.Context, filter repo.WorkflowFilter) ([]domain.Workflow, error)
	Replay(ctx context.Context, deadLetterID uuid.UUID) (*domain.QueueTask, error)
}

// Cursors — чтение и ручная установка курсора монитора.
type Cursors interface {
	LoadCursor(ctx context.Context, source string) (int64, error)
	ResetCursor(ctx context.Context, source string, sequence int64) error
}

// Backend — всё, с чем работает CLI. Собирается в cmd/stellara-cli
// поверх PostgreSQL, в тестах — поверх memrepo.
type Backend struct {
	Workflows   Workflows
	DeadLetters repo.DeadLetterReader
	Cursors     Cursors

	// Migrate применяет схему БД.
	Migrate func(ctx context.Context) error

	// Close освобождает ресурсы (опционально).
	Close func()
}

// BackendFunc лениво создаёт Backend после разбора флагов.
type BackendFunc func(ctx context.Context) (*Backend, error)

// withBackend открывает Backend и закрывает его после fn.
func withBackend(ctx context.Context, backendFn BackendFunc, fn func(b *Backend) error) error {
	b, err := backendFn(ctx)
	if err != nil {
		return err
	}
	if b.Close != nil {
		defer b.Close()
	}
	return fn(b)
}

func parseID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
