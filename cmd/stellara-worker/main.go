// Stellara Worker — выполняет шаги workflows.
//
// Worker:
//   - Арендует задания из очереди в PostgreSQL
//   - Выполняет шаг обработчиком из реестра (http, delay, transform)
//   - Сообщает результат в orchestrator (следующий шаг, retry, dead-letter)
//   - Просыпается по уведомлениям RabbitMQ, без них опрашивает очередь
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/shaiso/Stellara/internal/api"
	"github.com/shaiso/Stellara/internal/config"
	"github.com/shaiso/Stellara/internal/mq"
	"github.com/shaiso/Stellara/internal/orchestrator"
	"github.com/shaiso/Stellara/internal/queue"
	"github.com/shaiso/Stellara/internal/repo"
	"github.com/shaiso/Stellara/internal/steps"
	"github.com/shaiso/Stellara/internal/telemetry"
	"github.com/shaiso/Stellara/internal/worker"
)

// stepEnvPrefix — переменные окружения с этим префиксом доступны
// шагам как {{ .Env.NAME }} (без префикса).
const stepEnvPrefix = "STELLARA_STEP_"

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("worker")
	logger.Info("starting stellara-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	store := repo.NewPGStore(pool)
	registry := steps.DefaultRegistry()

	// RabbitMQ (опционально)
	var mqConn *mq.Connection
	var notifier orchestrator.Notifier
	if cfg.RabbitMQ.URL != "" {
		mqConn, err = mq.NewConnection(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
			mqConn = nil
		} else {
			defer mqConn.Close()
			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			notifier = mq.NewPublisher(mqConn, logger)
			logger.Info("RabbitMQ connected")
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Store:          store,
		Notifier:       notifier,
		DefaultRetry:   cfg.RetryPolicy(),
		KnownStepTypes: registry.Checker(),
		Logger:         logger,
	})

	q := queue.New(queue.Config{
		Store:       store,
		Visibility:  cfg.Worker.Visibility,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Logger:      logger,
	})

	p := worker.New(worker.Config{
		Queue:          q,
		Orchestrator:   orch,
		Registry:       registry,
		Size:           cfg.Worker.PoolSize,
		PollInterval:   cfg.Worker.PollInterval,
		DefaultTimeout: cfg.Worker.StepTimeout,
		Visibility:     q.Visibility(),
		Env:            stepEnv(os.Environ()),
		Logger:         logger,
	})

	// Уведомления step.ready будят простаивающих воркеров
	if mqConn != nil {
		consumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
			Queue:    mq.QueueStepsReady,
			Handler:  mq.WakeHandler(p.Wake),
			Prefetch: cfg.Worker.PoolSize,
		})
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("consumer stopped", "error", err)
			}
		}()
	}

	// Служебный HTTP: /healthz, /readyz, /status, /metrics
	checks := map[string]api.Check{"postgres": pool.Ping}
	if mqConn != nil {
		checks["rabbitmq"] = mqConn.Check
	}
	ops := api.NewHandler(api.Config{
		Component: "worker",
		Checks:    checks,
		Status: func(context.Context) (any, error) {
			return map[string]any{"pool_size": cfg.Worker.PoolSize, "step_types": registry.Types()}, nil
		},
		Logger: logger,
	})
	go func() {
		if err := ops.Serve(ctx, ":"+strconv.Itoa(cfg.Ports.Worker)); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Работаем до сигнала завершения; текущие шаги не сообщаются,
	// их аренды истекут и задания будут выданы снова.
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker pool failed", "error", err)
	}

	logger.Info("stellara-worker stopped")
}

// stepEnv выбирает переменные окружения для шаблонов шагов.
func stepEnv(environ []string) map[string]string {
	env := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, stepEnvPrefix) {
			continue
		}
		if name := strings.TrimPrefix(key, stepEnvPrefix); name != "" {
			env[name] = value
		}
	}
	return env
}
