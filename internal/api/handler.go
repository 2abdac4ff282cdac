package api

import (
	"context"
	"log/slog"
)

// Check — проверка готовности зависимости (БД, брокер).
type Check func(ctx context.Context) error

// StatusFunc возвращает состояние компонента для /status.
type StatusFunc func(ctx context.Context) (any, error)

// Handler — служебные HTTP endpoints процесса.
type Handler struct {
	component string
	checks    map[string]Check
	status    StatusFunc
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	// Component — имя процесса в ответах: "monitor", "worker", "scheduler".
	Component string

	// Checks — проверки для /readyz по именам.
	Checks map[string]Check

	// Status — состояние для /status (опционально).
	Status StatusFunc

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		component: cfg.Component,
		checks:    cfg.Checks,
		status:    cfg.Status,
		logger:    logger,
	}
}
