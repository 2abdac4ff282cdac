// Package api содержит служебный HTTP сервер процессов Stellara.
//
// Структура:
//   - handler.go    — Handler с проверками и статусом компонента
//   - routes.go     — регистрация маршрутов
//   - health.go     — /healthz, /readyz, /status
//   - server.go     — запуск и graceful shutdown
//   - middleware.go — middleware (logging, recovery)
//   - response.go   — унифицированные JSON-ответы
//
// Управление workflows выполняется через CLI, а не через HTTP.
package api
