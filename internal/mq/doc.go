// Package mq — уведомления через RabbitMQ.
//
// Очередь шагов живёт в PostgreSQL, RabbitMQ только сокращает задержку:
// после коммита оркестратор публикует step.ready, и ждущий воркер
// просыпается, не дожидаясь poll interval. Потеря сообщения безопасна.
//
// Структура:
//   - connection.go — соединение с переподключением
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — Publisher (реализует orchestrator.Notifier)
//   - consumer.go   — Consumer и WakeHandler
//
// Типы сообщений:
//   - step.ready         — задание шага видно в очереди
//   - step.dead_lettered — задание ушло в dead-letter
package mq
