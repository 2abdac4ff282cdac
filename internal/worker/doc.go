// Package worker исполняет шаги workflow.
//
// Pool запускает Size воркеров. Каждый воркер:
//
//  1. Арендует задание через queue.Lease (visibility timeout)
//  2. Вызывает Orchestrator.BeginStep: шаг QUEUED → RUNNING
//  3. Рендерит конфигурацию шага (событие и результаты прошлых шагов)
//  4. Выполняет обработчик из steps.Registry с жёстким таймаутом
//  5. Сообщает результат в Orchestrator.Advance
//
// Очередь проверяется раз в PollInterval. Уведомление step.ready из
// RabbitMQ (mq.WakeHandler → Pool.Wake) будит ждущего воркера раньше.
//
// Обработчик, превысивший таймаут, не прерывается принудительно:
// воркер сообщает TIMEOUT и идёт дальше, а поздний результат
// отбрасывается оркестратором как устаревший. Поэтому обработчики
// должны быть идемпотентными, побочные эффекты — at-least-once.
package worker
