package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shaiso/Stellara/internal/domain"
	"github.com/shaiso/Stellara/internal/engine"
	"github.com/shaiso/Stellara/internal/orchestrator"
	"github.com/shaiso/Stellara/internal/queue"
	"github.com/shaiso/Stellara/internal/steps"
	"github.com/shaiso/Stellara/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Default configuration values.
const (
	defaultSize          = 4
	defaultPollInterval  = time.Second
	defaultTimeout       = 25 * time.Second
	defaultReportTimeout = 10 * time.Second
)

// Leaser — источник заданий.
type Leaser interface {
	Lease(ctx context.Context, workerID string) (*domain.QueueTask, error)
}

// Orchestrator — переходы шагов, которые вызывает воркер.
type Orchestrator interface {
	BeginStep(ctx context.Context, task *domain.QueueTask) (*orchestrator.Dispatch, error)
	Advance(ctx context.Context, req orchestrator.AdvanceRequest) error
}

// Pool — пул воркеров.
//
// Каждый воркер в цикле арендует задание, переводит шаг в RUNNING,
// выполняет обработчик с жёстким таймаутом и сообщает результат
// в Advance. Пустая очередь ждёт poll interval или Wake.
type Pool struct {
	queue    Leaser
	orch     Orchestrator
	registry *steps.Registry

	size           int
	id             string
	pollInterval   time.Duration
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	env            map[string]string

	wake   chan struct{}
	logger *slog.Logger
}

// Config — конфигурация Pool.
type Config struct {
	Queue        Leaser
	Orchestrator Orchestrator

	// Registry — обработчики шагов (default: steps.DefaultRegistry()).
	Registry *steps.Registry

	// Size — количество воркеров (default: 4).
	Size int

	// ID — префикс ID воркеров (default: hostname).
	ID string

	// PollInterval — как часто проверять очередь без уведомлений (default: 1s).
	PollInterval time.Duration

	// DefaultTimeout — таймаут шага без timeout_sec (default: 25s).
	DefaultTimeout time.Duration

	// Visibility — visibility timeout очереди. Любой таймаут шага
	// урезается до 9/10 от него: обработчик не переживает аренду.
	// 0 — без ограничения.
	Visibility time.Duration

	// Env — значения {{ .Env.* }} в шаблонах конфигурации.
	Env map[string]string

	Logger *slog.Logger
}

// New создаёт пул воркеров.
func New(cfg Config) *Pool {
	size := cfg.Size
	if size <= 0 {
		size = defaultSize
	}

	id := cfg.ID
	if id == "" {
		id, _ = os.Hostname()
		if id == "" {
			id = "worker"
		}
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var maxTimeout time.Duration
	if cfg.Visibility > 0 {
		maxTimeout = cfg.Visibility - cfg.Visibility/10
	}

	registry := cfg.Registry
	if registry == nil {
		registry = steps.DefaultRegistry()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		queue:          cfg.Queue,
		orch:           cfg.Orchestrator,
		registry:       registry,
		size:           size,
		id:             id,
		pollInterval:   pollInterval,
		defaultTimeout: timeout,
		maxTimeout:     maxTimeout,
		env:            cfg.Env,
		wake:           make(chan struct{}, size),
		logger:         logger,
	}
}

// Run запускает воркеров и блокируется до отмены ctx.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("starting worker pool",
		"size", p.size,
		"poll_interval", p.pollInterval,
		"default_timeout", p.defaultTimeout,
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		workerID := fmt.Sprintf("%s-%d", p.id, i)
		g.Go(func() error {
			p.loop(ctx, workerID)
			return nil
		})
	}
	err := g.Wait()

	p.logger.Info("worker pool stopped")
	return err
}

// Wake будит одного ждущего воркера. Не блокируется.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	for {
		processed, err := p.RunOnce(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("lease failed", "worker_id", workerID, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
		if processed {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.pollInterval)

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-timer.C:
		}
	}
}

// RunOnce арендует и обрабатывает одно задание.
// Возвращает false, если очередь пуста.
func (p *Pool) RunOnce(ctx context.Context, workerID string) (bool, error) {
	task, err := p.queue.Lease(ctx, workerID)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	p.process(ctx, workerID, task)
	return true, nil
}

// process проводит одну попытку: BeginStep → Execute → Advance.
func (p *Pool) process(ctx context.Context, workerID string, task *domain.QueueTask) {
	logger := telemetry.WithTask(p.logger, task).With("worker_id", workerID)

	d, err := p.orch.BeginStep(ctx, task)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrLeaseLost),
			errors.Is(err, orchestrator.ErrStaleTask),
			errors.Is(err, orchestrator.ErrWorkflowNotRunning):
			logger.Info("task dropped", "reason", err)
		case errors.Is(err, orchestrator.ErrAttemptsExhausted):
			logger.Warn("step attempts exhausted", "error", err)
		default:
			// Аренда истечёт, и задание вернётся в очередь.
			logger.Error("failed to begin step", "error", err)
		}
		return
	}
	logger = logger.With("step", d.Step.Name, "type", d.Step.Type)

	telemetry.WorkersBusy.Inc()
	start := time.Now()
	outcome, ok := p.execute(ctx, d, logger)
	telemetry.WorkersBusy.Dec()

	if !ok {
		logger.Warn("step abandoned on shutdown, lease will expire")
		return
	}
	telemetry.StepDuration.WithLabelValues(d.Step.Type, string(outcome.Status)).Observe(time.Since(start).Seconds())

	// Результат сообщается и во время остановки пула.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultReportTimeout)
	defer cancel()

	err = p.orch.Advance(reportCtx, orchestrator.AdvanceRequest{
		StepID:     d.Step.ID,
		LeaseToken: task.LeaseToken,
		Attempt:    task.Attempt,
		Outcome:    outcome,
	})
	switch {
	case err == nil:
		logger.Info("step attempt finished",
			"outcome", outcome.Status,
			"reason", outcome.Reason,
			"duration", time.Since(start),
		)
	case errors.Is(err, orchestrator.ErrStaleOutcome):
		logger.Info("stale outcome discarded", "outcome", outcome.Status)
	default:
		logger.Error("failed to report outcome", "error", err)
	}
}

type execResult struct {
	resp *steps.Response
	err  error
}

// execute выполняет обработчик с таймаутом.
// Обработчик, не уложившийся в таймаут, бросается: его поздний результат
// игнорируется. ok=false — пул остановлен, результат не сообщается.
func (p *Pool) execute(ctx context.Context, d *orchestrator.Dispatch, logger *slog.Logger) (domain.Outcome, bool) {
	handler, err := p.registry.Get(d.Step.Type)
	if err != nil {
		return domain.Failed(domain.ReasonUnknownType, err), true
	}

	tmplCtx := engine.ForWorkflow(&d.Event, d.Workflow)
	for k, v := range p.env {
		tmplCtx.SetEnv(k, v)
	}

	config, err := engine.RenderConfig(d.Step.Config, tmplCtx)
	if err != nil {
		return domain.Failed(domain.ReasonActionFailure, fmt.Errorf("render config: %w", err)), true
	}

	timeout := p.stepTimeout(d)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &steps.Request{
		WorkflowID:      d.Workflow.ID,
		StepID:          d.Step.ID,
		StepName:        d.Step.Name,
		Attempt:         d.Task.Attempt,
		Event:           d.Event,
		Config:          config,
		TemplateContext: tmplCtx,
		Timeout:         timeout,
	}

	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execResult{err: fmt.Errorf("%w: %v", ErrHandlerPanic, r)}
			}
		}()
		resp, err := handler.Execute(execCtx, req)
		done <- execResult{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			var outputs map[string]any
			if res.resp != nil {
				outputs = res.resp.Outputs
			}
			return domain.Succeeded(outputs), true
		}
		if ctx.Err() != nil {
			return domain.Outcome{}, false
		}
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return domain.Failed(domain.ReasonTimeout, fmt.Errorf("%w after %s: %w", ErrExecutionTimeout, timeout, res.err)), true
		}
		return domain.Failed(domain.ReasonActionFailure, res.err), true

	case <-execCtx.Done():
		if ctx.Err() != nil {
			return domain.Outcome{}, false
		}
		logger.Warn("step handler timed out, abandoning", "timeout", timeout)
		return domain.Failed(domain.ReasonTimeout, fmt.Errorf("%w after %s", ErrExecutionTimeout, timeout)), true
	}
}

// stepTimeout — таймаут попытки: timeout_sec шага или таймаут по умолчанию,
// не больше maxTimeout.
func (p *Pool) stepTimeout(d *orchestrator.Dispatch) time.Duration {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	if p.maxTimeout > 0 && timeout > p.maxTimeout {
		p.logger.Warn("step timeout exceeds lease visibility, clamping",
			"step", d.Step.Name,
			"timeout", timeout,
			"clamped_to", p.maxTimeout,
		)
		timeout = p.maxTimeout
	}
	return timeout
}
