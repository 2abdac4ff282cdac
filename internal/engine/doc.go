// Package engine содержит вычисления над определением workflow.
//
// Включает:
//   - validate.go  — валидация workflow перед сохранением
//   - predicate.go — маленький язык условий триггера (eq, gt, in, exists, ...)
//   - template.go  — рендеринг Go templates ({{ .Event.Payload.x }}, {{ .Steps.a.Outputs.y }})
//
// Engine не ходит в БД: оркестратор и matcher
// вызывают его как чистые функции.
package engine
