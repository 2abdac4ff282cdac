// Stellara Scheduler — периодическое обслуживание.
//
// Scheduler:
//   - Удаляет старые записи активаций завершённых workflows
//   - Публикует метрики глубины очереди и dead-letter
//
// Задачи выполняет только лидер (PostgreSQL advisory lock),
// поэтому можно запускать несколько экземпляров.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shaiso/Stellara/internal/api"
	"github.com/shaiso/Stellara/internal/config"
	"github.com/shaiso/Stellara/internal/repo"
	"github.com/shaiso/Stellara/internal/scheduler"
	"github.com/shaiso/Stellara/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("scheduler")
	logger.Info("starting stellara-scheduler")

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
	sched := scheduler.New(scheduler.Config{
		Store:     store,
		Lock:      repo.NewAdvisoryLock(pool, repo.SchedulerLockKey),
		Retention: cfg.Dedup.Retention,
		PurgeSpec: cfg.Scheduler.PurgeSchedule,
		StatsSpec: cfg.Scheduler.StatsSchedule,
		Logger:    logger,
	})

	// Служебный HTTP: /healthz, /readyz, /status, /metrics
	ops := api.NewHandler(api.Config{
		Component: "scheduler",
		Checks:    map[string]api.Check{"postgres": pool.Ping},
		Status: func(ctx context.Context) (any, error) {
			return store.QueueStats(ctx, time.Now())
		},
		Logger: logger,
	})
	go func() {
		if err := ops.Serve(ctx, ":"+strconv.Itoa(cfg.Ports.Scheduler)); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler failed", "error", err)
		os.Exit(1)
	}

	logger.Info("stellara-scheduler stopped")
}
