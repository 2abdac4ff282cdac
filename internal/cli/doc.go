// Package cli реализует административную утилиту Stellara.
//
// CLI работает с PostgreSQL напрямую через orchestrator, поэтому
// правила переходов те же, что у монитора и воркеров.
//
// Команды:
//   - workflow: create -f def.yaml, list, show, publish, cancel, delete
//   - dlq: list, replay
//   - cursor: show, set
//   - migrate
//
// Каждая группа создаётся фабрикой (NewWorkflowCmd и т.д.), которая
// принимает backendFn и outputFn: Backend и Output создаются лениво,
// после разбора PersistentFlags.
//
// Данные выводятся в stdout (таблица или JSON с --json),
// сообщения — в stderr: stellara workflow list --json | jq .
package cli
