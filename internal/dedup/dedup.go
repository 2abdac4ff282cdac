// Package dedup — окно дедупликации пар (событие, workflow).
//
// Ledger может доставить одно событие повторно. Matcher проверяет ключ
// (event.id, workflow.id) до активации и отмечает его только после того,
// как активация закоммичена. Отметка живёт окно удержания.
//
// Окно — быстрый фильтр повторов. Окончательную идемпотентность даёт
// первичный ключ workflow_activations в Postgres.
package dedup

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultRetention — окно удержания по умолчанию.
const DefaultRetention = 24 * time.Hour

// Window — окно дедупликации.
type Window interface {
	// Seen сообщает, отмечен ли ключ. Ничего не меняет.
	Seen(ctx context.Context, key string) (bool, error)

	// Mark отмечает ключ на ttl. Повторная отметка продлевает срок.
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// Key строит ключ для пары (событие, workflow).
func Key(eventID string, workflowID uuid.UUID) string {
	return eventID + "/" + workflowID.String()
}
