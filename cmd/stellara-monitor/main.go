// Stellara Monitor — подписка на ledger и запуск workflows.
//
// Monitor:
//   - Читает операции Horizon с сохранённого курсора
//   - Сопоставляет события с ACTIVE workflows (trigger.Matcher)
//   - Активирует совпавшие workflows через orchestrator
//   - Уведомляет воркеров о готовых шагах через RabbitMQ
//
// Одновременно должен работать один экземпляр на источник.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Stellara/internal/api"
	"github.com/shaiso/Stellara/internal/config"
	"github.com/shaiso/Stellara/internal/dedup"
	"github.com/shaiso/Stellara/internal/ledger"
	"github.com/shaiso/Stellara/internal/monitor"
	"github.com/shaiso/Stellara/internal/mq"
	"github.com/shaiso/Stellara/internal/orchestrator"
	"github.com/shaiso/Stellara/internal/repo"
	"github.com/shaiso/Stellara/internal/steps"
	"github.com/shaiso/Stellara/internal/telemetry"
	"github.com/shaiso/Stellara/internal/trigger"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("monitor")
	logger.Info("starting stellara-monitor")

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

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	store := repo.NewPGStore(pool)

	// Окно дедупликации: Redis, если настроен, иначе в памяти процесса
	var window dedup.Window
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis not available, dedup window falls back to memory", "error", err)
			window = dedup.NewMemoryWindow(nil)
		} else {
			window = dedup.NewRedisWindow(rdb, cfg.Redis.Prefix)
			logger.Info("Redis connected", "addr", cfg.Redis.Addr)
		}
	} else {
		window = dedup.NewMemoryWindow(nil)
	}

	// RabbitMQ (опционально)
	var mqConn *mq.Connection
	var notifier orchestrator.Notifier
	if cfg.RabbitMQ.URL != "" {
		mqConn, err = mq.NewConnection(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, workers will rely on polling", "error", err)
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
		KnownStepTypes: steps.DefaultRegistry().Checker(),
		Logger:         logger,
	})

	matcher := trigger.New(trigger.Config{
		Workflows: store,
		Activator: orch,
		Window:    window,
		Retention: cfg.Dedup.Retention,
		Logger:    logger,
	})

	client := ledger.NewHorizonClient(ledger.HorizonConfig{
		BaseURL:      cfg.Horizon.URL,
		PageSize:     cfg.Horizon.PageSize,
		PollInterval: cfg.Horizon.PollInterval,
		RateLimit:    cfg.Horizon.RateLimit,
		Logger:       logger,
	})

	mon := monitor.New(monitor.Config{
		Client:  client,
		Sink:    matcher,
		Cursors: store,
		Logger:  logger,
	})

	// Служебный HTTP: /healthz, /readyz, /status, /metrics
	checks := map[string]api.Check{"postgres": pool.Ping}
	if mqConn != nil {
		checks["rabbitmq"] = mqConn.Check
	}
	ops := api.NewHandler(api.Config{
		Component: "monitor",
		Checks:    checks,
		Status: func(context.Context) (any, error) {
			return map[string]any{"source": ledger.SourceHorizon, "cursor": mon.Cursor()}, nil
		},
		Logger: logger,
	})
	go func() {
		if err := ops.Serve(ctx, ":"+strconv.Itoa(cfg.Ports.Monitor)); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Работаем до сигнала завершения
	if err := mon.Run(ctx); err != nil {
		logger.Error("monitor failed", "error", err)
		os.Exit(1)
	}

	logger.Info("stellara-monitor stopped", "cursor", mon.Cursor())
}
