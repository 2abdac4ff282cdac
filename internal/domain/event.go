package domain

import "time"

// LedgerEvent — нормализованное событие ledger.
//
// Не хранится дольше окна дедупликации. События одного источника
// приходят с неубывающим Sequence, но возможна повторная доставка по ID.
type LedgerEvent struct {
	// ID — уникальный идентификатор от ledger.
	ID string `json:"id"`

	// Source — источник (например, "horizon").
	Source string `json:"source,omitempty"`

	// Type — тип события: "payment", "create_account", "invoke_host_function".
	Type string `json:"type"`

	// Sequence — позиция в потоке (курсор).
	Sequence int64 `json:"sequence"`

	// Payload — тело события.
	Payload map[string]any `json:"payload,omitempty"`

	// ObservedAt — когда монитор получил событие.
	ObservedAt time.Time `json:"observed_at"`
}

// TriggerPredicate — условие запуска workflow.
type TriggerPredicate struct {
	// EventType — тип события, на который реагирует workflow.
	EventType string `json:"event_type" yaml:"event_type"`

	// Conditions — проверки payload, объединённые через AND.
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Condition — одна проверка поля payload.
type Condition struct {
	// Field — путь к полю через точку: "asset.code", "amount".
	Field string `json:"field" yaml:"field"`

	// Op — оператор: eq, ne, gt, gte, lt, lte, exists, not_exists, in, contains, prefix.
	Op string `json:"op" yaml:"op"`

	// Value — значение для сравнения (для in — список).
	Value any `json:"value,omitempty" yaml:"value,omitempty"`
}
