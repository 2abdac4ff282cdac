// Package ledger — клиент потока операций Stellar (Horizon).
//
// Client отдаёт сырые записи начиная с курсора; Normalize превращает
// запись в domain.LedgerEvent. Переподключение и курсор — забота
// монитора: Subscribe закрывает каналы при первой ошибке.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
)

// Ошибки ledger.
var (
	// ErrParse — запись ledger не удалось разобрать. Запись пропускается.
	ErrParse = errors.New("ledger entry parse error")

	// ErrUnavailable — Horizon вернул 5xx или 429.
	ErrUnavailable = errors.New("ledger unavailable")
)

// RawEntry — запись потока операций как есть.
type RawEntry struct {
	ID          string
	PagingToken string
	Body        json.RawMessage
}

// Client — поток операций ledger.
type Client interface {
	// Subscribe отдаёт записи строго после cursor в порядке возрастания.
	// Канал записей закрывается при отмене ctx или после ошибки,
	// отправленной в канал ошибок.
	Subscribe(ctx context.Context, cursor int64) (<-chan RawEntry, <-chan error)

	// CurrentCursor возвращает paging token последней операции.
	CurrentCursor(ctx context.Context) (int64, error)
}
