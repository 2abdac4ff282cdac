package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stellara"

// Счётчики монитора ledger.
var (
	// EventsReceived — события, полученные из ledger.
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_events_received_total",
		Help:      "Ledger events received by the monitor.",
	})

	// EventsSkipped — пропущенные записи ledger по причине (parse_error, before_cursor).
	EventsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_events_skipped_total",
		Help:      "Ledger entries skipped by the monitor.",
	}, []string{"reason"})

	// LedgerCursor — последний подтверждённый курсор.
	LedgerCursor = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ledger_cursor",
		Help:      "Last acknowledged ledger cursor.",
	})
)

// Счётчики matcher и оркестратора.
var (
	// WorkflowsActivated — успешные активации workflow.
	WorkflowsActivated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflows_activated_total",
		Help:      "Workflows activated by ledger events.",
	})

	// WorkflowsFinished — workflows, дошедшие до терминального статуса.
	WorkflowsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflows_finished_total",
		Help:      "Workflows that reached a terminal status.",
	}, []string{"status"})

	// PredicateErrors — некорректные предикаты триггеров.
	PredicateErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "predicate_errors_total",
		Help:      "Malformed trigger predicates skipped during matching.",
	})

	// DuplicateActivations — повторные события, отсечённые дедупликацией.
	DuplicateActivations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_activations_total",
		Help:      "Activations suppressed by (event, workflow) deduplication.",
	})

	// StepsSucceeded — успешные шаги.
	StepsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_succeeded_total",
		Help:      "Workflow steps that succeeded.",
	})

	// StepsFailed — неуспешные попытки шагов по причине.
	StepsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_failed_total",
		Help:      "Failed step attempts by reason.",
	}, []string{"reason"})

	// StepsRetried — попытки, вернувшиеся в очередь.
	StepsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_retried_total",
		Help:      "Step attempts re-queued for retry.",
	})

	// TasksDeadLettered — задания, ушедшие в dead-letter.
	TasksDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_dead_lettered_total",
		Help:      "Queue tasks moved to the dead-letter store.",
	})

	// InfraRetriesExhausted — временные ошибки, не прошедшие после всех повторов.
	InfraRetriesExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "infra_retries_exhausted_total",
		Help:      "Operations that kept failing with transient infrastructure errors.",
	}, []string{"operation"})
)

// Состояние очереди (обновляет scheduler).
var (
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_tasks",
		Help:      "Queue tasks by state.",
	}, []string{"state"})

	DeadLetters = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dead_letters",
		Help:      "Dead letters waiting for manual intervention.",
	})
)

// Исполнение шагов (worker).
var (
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Step handler execution time.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"type", "outcome"})

	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workers_busy",
		Help:      "Workers currently executing a step.",
	})
)
