// Package steps содержит обработчики типов шагов workflow.
//
// Каждый обработчик получает конфигурацию, уже отрендеренную через
// engine.RenderConfig, выполняет действие и возвращает outputs,
// доступные следующим шагам через {{ .Steps.<name>.Outputs }}.
//
// Встроенные типы:
//   - http      — вызов webhook или API с заголовками X-Stellara-*,
//     подпись HMAC при заданном secret, статус >= 400 даёт *HTTPError
//   - delay     — пауза (until, duration, duration_sec или duration_ms)
//   - transform — вычисление значений из события и прошлых шагов
//
// Registry сопоставляет тег типа с обработчиком:
//
//	registry := steps.DefaultRegistry()
//	step, err := registry.Get("http")
//
// Retry и таймауты находятся в worker и orchestrator.
// Обработчик только возвращает ошибку и обязан реагировать на ctx.Done().
package steps
