package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/shaiso/Stellara/internal/domain"
)

// ParseLevel разбирает уровень логирования: DEBUG, INFO, WARN, ERROR.
// Регистр не важен, неизвестное значение даёт INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoggerConfig — параметры логгера.
type LoggerConfig struct {
	// Component добавляется ко всем записям: "monitor", "worker", "scheduler".
	Component string

	Level slog.Level

	// Format — "json" или "text".
	Format string

	// Output — куда писать (default: stdout).
	Output io.Writer
}

// NewLogger создаёт логгер по конфигурации. Глобальный логгер не меняется.
func NewLogger(cfg LoggerConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.Level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler)
	if cfg.Component != "" {
		logger = logger.With("component", cfg.Component)
	}
	return logger
}

// SetupLogger инициализирует глобальный логгер процесса.
//
// Уровень берётся из LOG_LEVEL, формат из LOG_FORMAT:
//   - "json" (по умолчанию) — JSON формат для production
//   - "text" — человекочитаемый формат для разработки
func SetupLogger(component string) *slog.Logger {
	logger := NewLogger(LoggerConfig{
		Component: component,
		Level:     ParseLevel(os.Getenv("LOG_LEVEL")),
		Format:    os.Getenv("LOG_FORMAT"),
	})
	slog.SetDefault(logger)
	return logger
}

// WithWorkflowID возвращает логгер с добавленным workflow_id.
func WithWorkflowID(logger *slog.Logger, workflowID string) *slog.Logger {
	return logger.With("workflow_id", workflowID)
}

// WithEventID возвращает логгер с добавленным event_id.
func WithEventID(logger *slog.Logger, eventID string) *slog.Logger {
	return logger.With("event_id", eventID)
}

// WithTask возвращает логгер с полями задания очереди.
func WithTask(logger *slog.Logger, task *domain.QueueTask) *slog.Logger {
	return logger.With(
		"workflow_id", task.WorkflowID,
		"step_id", task.StepID,
		"position", task.Position,
		"attempt", task.Attempt,
	)
}
