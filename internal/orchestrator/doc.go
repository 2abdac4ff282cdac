// Package orchestrator — машина состояний workflow и его шагов.
//
// Orchestrator — единственное место, где меняются статусы workflow и шагов.
// Каждая операция — одна транзакция: заблокировать строку workflow,
// проверить ребро перехода, записать новый статус и поставить следующую
// работу в очередь.
//
// Операции:
//   - Create / Publish / Delete — жизненный цикл определения (DRAFT → ACTIVE)
//   - Activate — запуск событием (ACTIVE → RUNNING), первый шаг в очередь
//   - BeginStep — воркер взял задание (QUEUED → RUNNING)
//   - Advance — результат попытки: следующий шаг, retry, dead-letter
//   - Cancel — отмена: PENDING/QUEUED шаги → SKIPPED
//   - Replay — ручной перезапуск шага из dead-letter
//
// Advance идемпотентен по (шаг, попытка, токен аренды): повторный или
// запоздавший результат возвращает ErrStaleOutcome и ничего не меняет.
package orchestrator
