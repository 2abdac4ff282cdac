// Package scheduler — периодическое обслуживание.
//
// Задачи (robfig/cron):
//   - purge_activations — удаление записей активаций старше окна дедупликации
//   - queue_stats       — метрики очереди и dead-letter, предупреждение об истёкших арендах
//
// Несколько экземпляров scheduler могут работать одновременно:
// задачи выполняет только держатель pg_advisory_lock (repo.AdvisoryLock).
package scheduler
