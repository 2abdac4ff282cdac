// Package monitor — подписка на поток ledger с персистентным курсором.
//
// Монитор читает записи от ledger.Client, нормализует их и передаёт
// в Sink по одной. Курсор сохраняется только после того, как Sink
// подтвердил событие, поэтому после падения повторно доставляются
// лишь события после последнего сохранённого курсора.
//
// Ошибки подписки и Sink повторяются с экспоненциальной задержкой
// и jitter. Нераспознанная запись логируется и пропускается.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiso/Stellara/internal/backoff"
	"github.com/shaiso/Stellara/internal/domain"
	"github.com/shaiso/Stellara/internal/ledger"
	"github.com/shaiso/Stellara/internal/repo"
	"github.com/shaiso/Stellara/internal/telemetry"
)

// Ошибки монитора.
var (
	ErrAlreadyStarted = errors.New("monitor already started")
	errStreamClosed   = errors.New("ledger stream closed")
)

// Значения по умолчанию.
const (
	DefaultSource        = ledger.SourceHorizon
	defaultRetryInitial  = time.Second
	defaultRetryMax      = time.Minute
	defaultCursorRetries = 5
)

// Sink принимает события. Реализуется trigger.Matcher.
// Ошибка означает, что событие не обработано и будет доставлено снова.
type Sink interface {
	HandleEvent(ctx context.Context, ev *domain.LedgerEvent) error
}

// Config — конфигурация Monitor.
type Config struct {
	Client  ledger.Client
	Sink    Sink
	Cursors repo.CursorStore

	// Source — имя курсора (default: "horizon").
	Source string

	// Backoff — задержка между повторами (default: jitter 1s..1m).
	Backoff backoff.Strategy

	Clock  func() time.Time
	Logger *slog.Logger
}

// Monitor — подписчик ledger.
type Monitor struct {
	client  ledger.Client
	sink    Sink
	cursors repo.CursorStore
	source  string
	backoff backoff.Strategy
	now     func() time.Time
	logger  *slog.Logger

	cursor atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New создаёт Monitor.
func New(cfg Config) *Monitor {
	source := cfg.Source
	if source == "" {
		source = DefaultSource
	}
	strategy := cfg.Backoff
	if strategy == nil {
		strategy = backoff.Jitter{Initial: defaultRetryInitial, Max: defaultRetryMax}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		client:  cfg.Client,
		sink:    cfg.Sink,
		cursors: cfg.Cursors,
		source:  source,
		backoff: strategy,
		now:     clock,
		logger:  logger.With("source", source),
	}
}

// Start запускает подписку с курсора cursor.
// Подписка живёт до Stop или отмены ctx.
func (m *Monitor) Start(ctx context.Context, cursor int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.cursor.Store(cursor)

	go func(done chan struct{}) {
		defer close(done)
		m.loop(ctx)
	}(m.done)

	m.logger.Info("monitor started", "cursor", cursor)
	return nil
}

// Stop отключается от ledger и ждёт завершения цикла.
// Безопасно вызывать повторно.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.logger.Info("monitor stopped", "cursor", m.cursor.Load())
}

// Run загружает сохранённый курсор и работает до отмены ctx.
func (m *Monitor) Run(ctx context.Context) error {
	cursor, err := m.cursors.LoadCursor(ctx, m.source)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if err := m.Start(ctx, cursor); err != nil {
		return err
	}
	<-ctx.Done()
	m.Stop()
	return nil
}

// Cursor возвращает последний подтверждённый курсор.
func (m *Monitor) Cursor() int64 {
	return m.cursor.Load()
}

func (m *Monitor) loop(ctx context.Context) {
	failures := 0
	for ctx.Err() == nil {
		progressed, err := m.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if progressed {
			failures = 0
		}
		failures++

		delay := m.backoff.Delay(failures)
		m.logger.Warn("ledger subscription interrupted, reconnecting",
			"error", err,
			"attempt", failures,
			"delay", delay,
			"cursor", m.cursor.Load(),
		)
		if !sleep(ctx, delay) {
			return
		}
	}
}

// consume читает одну подписку до её закрытия.
// progressed — был ли подтверждён хотя бы один курсор.
func (m *Monitor) consume(ctx context.Context) (progressed bool, err error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries, errs := m.client.Subscribe(subCtx, m.cursor.Load())

	for raw := range entries {
		ev, perr := ledger.Normalize(raw, m.now())
		if perr != nil {
			telemetry.EventsSkipped.WithLabelValues("parse_error").Inc()
			m.logger.Warn("skipping unparseable ledger entry", "entry_id", raw.ID, "error", perr)

			// Пропуск — тоже подтверждение: запись не придёт снова
			if seq, err := strconv.ParseInt(raw.PagingToken, 10, 64); err == nil && seq > m.cursor.Load() {
				if err := m.commit(ctx, seq); err != nil {
					return progressed, err
				}
				progressed = true
			}
			continue
		}

		// Несколько событий могут делить один sequence: повтор на курсоре
		// отсекают Matcher и orchestrator
		if ev.Sequence < m.cursor.Load() {
			telemetry.EventsSkipped.WithLabelValues("before_cursor").Inc()
			continue
		}

		telemetry.EventsReceived.Inc()
		if err := m.deliver(ctx, &ev); err != nil {
			return progressed, err
		}
		if err := m.commit(ctx, ev.Sequence); err != nil {
			return progressed, err
		}
		progressed = true
	}

	select {
	case err := <-errs:
		return progressed, err
	default:
		return progressed, errStreamClosed
	}
}

// deliver передаёт событие в Sink, повторяя до успеха или отмены ctx.
func (m *Monitor) deliver(ctx context.Context, ev *domain.LedgerEvent) error {
	logger := telemetry.WithEventID(m.logger, ev.ID)

	for attempt := 1; ; attempt++ {
		err := m.sink.HandleEvent(ctx, ev)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := m.backoff.Delay(attempt)
		logger.Warn("event handling failed, retrying",
			"sequence", ev.Sequence,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

// commit сохраняет курсор.
func (m *Monitor) commit(ctx context.Context, seq int64) error {
	err := backoff.Retry(ctx, m.backoff, defaultCursorRetries, func() error {
		return m.cursors.SaveCursor(ctx, m.source, seq)
	})
	if err != nil {
		return fmt.Errorf("save cursor %d: %w", seq, err)
	}
	m.cursor.Store(seq)
	telemetry.LedgerCursor.Set(float64(seq))
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
