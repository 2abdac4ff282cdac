package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/Stellara/internal/dedup"
	"github.com/shaiso/Stellara/internal/repo"
	"github.com/shaiso/Stellara/internal/telemetry"
)

// Расписания по умолчанию.
const (
	DefaultPurgeSpec = "@every 10m"
	DefaultStatsSpec = "@every 30s"
)

// Locker — лидерство среди экземпляров scheduler.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Scheduler запускает задачи обслуживания по расписанию.
// Задачи выполняет только лидер.
type Scheduler struct {
	store     repo.MaintenanceStore
	lock      Locker
	retention time.Duration
	purgeSpec string
	statsSpec string
	now       func() time.Time
	logger    *slog.Logger
}

// Config — конфигурация Scheduler.
type Config struct {
	Store repo.MaintenanceStore

	// Lock — лидерство (nil — этот экземпляр всегда лидер).
	Lock Locker

	// Retention — сколько хранить записи активаций (default: окно дедупликации).
	Retention time.Duration

	// PurgeSpec и StatsSpec — расписания задач.
	PurgeSpec string
	StatsSpec string

	// Clock — источник времени (для тестов).
	Clock func() time.Time

	Logger *slog.Logger
}

// New создаёт Scheduler.
func New(cfg Config) *Scheduler {
	retention := cfg.Retention
	if retention <= 0 {
		retention = dedup.DefaultRetention
	}
	purgeSpec := cfg.PurgeSpec
	if purgeSpec == "" {
		purgeSpec = DefaultPurgeSpec
	}
	statsSpec := cfg.StatsSpec
	if statsSpec == "" {
		statsSpec = DefaultStatsSpec
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		store:     cfg.Store,
		lock:      cfg.Lock,
		retention: retention,
		purgeSpec: purgeSpec,
		statsSpec: statsSpec,
		now:       clock,
		logger:    logger,
	}
}

// Run регистрирует задачи и блокируется до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})),
		cron.WithLogger(cronLogger{s.logger}),
	)

	jobs := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"purge_activations", s.purgeSpec, s.PurgeActivations},
		{"queue_stats", s.statsSpec, s.RefreshQueueStats},
	}
	for _, j := range jobs {
		if _, err := c.AddFunc(j.spec, s.leaderJob(ctx, j.name, j.fn)); err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}

	s.logger.Info("scheduler started",
		"purge_schedule", s.purgeSpec,
		"stats_schedule", s.statsSpec,
		"retention", s.retention,
	)
	c.Start()

	<-ctx.Done()

	// Ждём текущие задачи
	<-c.Stop().Done()

	if s.lock != nil {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.lock.Unlock(unlockCtx); err != nil {
			s.logger.Warn("failed to release leader lock", "error", err)
		}
	}

	s.logger.Info("scheduler stopped")
	return nil
}

// leaderJob оборачивает задачу проверкой лидерства.
func (s *Scheduler) leaderJob(ctx context.Context, name string, fn func(context.Context) error) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		leader, err := s.IsLeader(ctx)
		if err != nil {
			s.logger.Error("leader check failed", "job", name, "error", err)
			return
		}
		if !leader {
			s.logger.Debug("not leader, skipping job", "job", name)
			return
		}

		start := time.Now()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("maintenance job failed", "job", name, "error", err)
			return
		}
		s.logger.Debug("maintenance job finished", "job", name, "duration", time.Since(start))
	}
}

// IsLeader сообщает, должен ли этот экземпляр выполнять задачи.
func (s *Scheduler) IsLeader(ctx context.Context) (bool, error) {
	if s.lock == nil {
		return true, nil
	}
	return s.lock.TryLock(ctx)
}

// PurgeActivations удаляет записи активаций старше retention.
func (s *Scheduler) PurgeActivations(ctx context.Context) error {
	cutoff := s.now().Add(-s.retention)
	n, err := s.store.PurgeActivations(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge activations: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged activation records", "count", n, "older_than", cutoff)
	}
	return nil
}

// RefreshQueueStats обновляет метрики очереди и предупреждает
// об истёкших арендах (воркеры пропали).
func (s *Scheduler) RefreshQueueStats(ctx context.Context) error {
	stats, err := s.store.QueueStats(ctx, s.now())
	if err != nil {
		return fmt.Errorf("queue stats: %w", err)
	}

	telemetry.QueueDepth.WithLabelValues("ready").Set(float64(stats.Ready))
	telemetry.QueueDepth.WithLabelValues("delayed").Set(float64(stats.Delayed))
	telemetry.QueueDepth.WithLabelValues("leased").Set(float64(stats.Leased))
	telemetry.QueueDepth.WithLabelValues("expired").Set(float64(stats.Expired))
	telemetry.DeadLetters.Set(float64(stats.DeadLetters))

	if stats.Expired > 0 {
		s.logger.Warn("queue has expired leases", "count", stats.Expired)
	}
	return nil
}
