// Package trigger — сопоставление событий ledger с триггерами workflow.
//
// Matcher для каждого события:
//  1. выбирает ACTIVE workflows, слушающие тип события
//  2. вычисляет предикат триггера по payload
//  3. отсекает уже обработанные пары (event.id, workflow.id) по окну дедупликации
//  4. активирует все совпавшие workflows параллельно
//
// Некорректный предикат одного workflow не влияет на остальные.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stellara/internal/dedup"
	"github.com/shaiso/Stellara/internal/domain"
	"github.com/shaiso/Stellara/internal/engine"
	"github.com/shaiso/Stellara/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency — сколько активаций одного события выполняется одновременно.
const DefaultConcurrency = 8

// WorkflowSource — откуда берутся ACTIVE workflows.
type WorkflowSource interface {
	ListActiveByEventType(ctx context.Context, eventType string) ([]domain.Workflow, error)
}

// Activator запускает workflow событием (реализуется orchestrator.Orchestrator).
type Activator interface {
	Activate(ctx context.Context, workflowID uuid.UUID, ev *domain.LedgerEvent) error
}

// Config — конфигурация Matcher.
type Config struct {
	Workflows WorkflowSource
	Activator Activator

	// Window — окно дедупликации (default: в памяти).
	Window dedup.Window

	// Retention — сколько держать ключ (event, workflow) (default: 24h).
	Retention time.Duration

	// Concurrency — лимит параллельных активаций (default: 8).
	Concurrency int

	Clock  func() time.Time
	Logger *slog.Logger
}

// Matcher — сопоставитель событий.
type Matcher struct {
	workflows   WorkflowSource
	activator   Activator
	window      dedup.Window
	retention   time.Duration
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// New создаёт Matcher.
func New(cfg Config) *Matcher {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	window := cfg.Window
	if window == nil {
		window = dedup.NewMemoryWindow(clock)
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = dedup.DefaultRetention
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Matcher{
		workflows:   cfg.Workflows,
		activator:   cfg.Activator,
		window:      window,
		retention:   retention,
		concurrency: concurrency,
		now:         clock,
		logger:      logger,
	}
}

// Match возвращает активации для события.
//
// Пустой результат без ошибки — нет совпадений. Ошибка возвращается
// только если не удалось прочитать список workflows.
func (m *Matcher) Match(ctx context.Context, ev *domain.LedgerEvent) ([]domain.Activation, error) {
	candidates, err := m.workflows.ListActiveByEventType(ctx, ev.Type)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}

	logger := telemetry.WithEventID(m.logger, ev.ID)

	var activations []domain.Activation
	for i := range candidates {
		wf := &candidates[i]

		ok, err := engine.EvaluatePredicate(&wf.Trigger, ev)
		if err != nil {
			perr := &domain.PredicateError{WorkflowID: wf.ID, Err: err}
			telemetry.PredicateErrors.Inc()
			logger.Warn("skipping workflow with malformed trigger", "workflow_id", wf.ID, "error", perr)
			continue
		}
		if !ok {
			continue
		}

		seen, err := m.window.Seen(ctx, dedup.Key(ev.ID, wf.ID))
		if err != nil {
			// Окно недоступно: идемпотентность обеспечит БД
			logger.Warn("dedup window unavailable", "workflow_id", wf.ID, "error", err)
		}
		if seen {
			telemetry.DuplicateActivations.Inc()
			logger.Debug("duplicate event for workflow", "workflow_id", wf.ID)
			continue
		}

		activations = append(activations, domain.Activation{
			WorkflowID:  wf.ID,
			EventID:     ev.ID,
			EventType:   ev.Type,
			Sequence:    ev.Sequence,
			Payload:     ev.Payload,
			ActivatedAt: m.now(),
		})
	}

	return activations, nil
}

// HandleEvent сопоставляет событие и активирует совпавшие workflows.
//
// Возвращает ошибку только для временных сбоев: тогда курсор монитора
// не двигается и событие будет доставлено снова. Пара отмечается в окне
// только после закоммиченной активации, поэтому падение процесса между
// Match и Activate не теряет событие.
func (m *Matcher) HandleEvent(ctx context.Context, ev *domain.LedgerEvent) error {
	activations, err := m.Match(ctx, ev)
	if err != nil {
		return err
	}
	if len(activations) == 0 {
		return nil
	}

	g := new(errgroup.Group)
	g.SetLimit(m.concurrency)

	for _, act := range activations {
		g.Go(func() error {
			return m.activate(ctx, act.WorkflowID, ev)
		})
	}
	return g.Wait()
}

func (m *Matcher) activate(ctx context.Context, workflowID uuid.UUID, ev *domain.LedgerEvent) error {
	logger := telemetry.WithWorkflowID(telemetry.WithEventID(m.logger, ev.ID), workflowID.String())

	err := m.activator.Activate(ctx, workflowID, ev)
	switch {
	case err == nil:
		m.mark(ctx, logger, ev.ID, workflowID)
		return nil

	case errors.Is(err, domain.ErrAlreadyRunning):
		telemetry.DuplicateActivations.Inc()
		logger.Debug("workflow already running from this event")
		m.mark(ctx, logger, ev.ID, workflowID)
		return nil

	case errors.Is(err, domain.ErrIllegalTransition):
		logger.Info("workflow is no longer active", "error", err)
		return nil

	case domain.IsTransient(err), ctx.Err() != nil:
		return fmt.Errorf("activate workflow %s: %w", workflowID, err)

	default:
		logger.Error("activation failed", "error", err)
		return nil
	}
}

// mark отмечает пару в окне. Ошибка окна не влияет на результат активации.
func (m *Matcher) mark(ctx context.Context, logger *slog.Logger, eventID string, workflowID uuid.UUID) {
	if err := m.window.Mark(context.WithoutCancel(ctx), dedup.Key(eventID, workflowID), m.retention); err != nil {
		logger.Warn("failed to mark dedup key", "error", err)
	}
}
