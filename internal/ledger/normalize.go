package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shaiso/Stellara/internal/domain"
)

// SourceHorizon — значение LedgerEvent.Source для Horizon.
const SourceHorizon = "horizon"

// Normalize превращает запись Horizon в LedgerEvent.
//
// Тип операции ("payment", "create_account", "invoke_host_function", ...)
// становится типом события, paging token — Sequence, вся запись — Payload.
func Normalize(raw RawEntry, observedAt time.Time) (domain.LedgerEvent, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw.Body, &payload); err != nil {
		return domain.LedgerEvent{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	id, _ := payload["id"].(string)
	if id == "" {
		return domain.LedgerEvent{}, fmt.Errorf("%w: missing id", ErrParse)
	}

	typ, _ := payload["type"].(string)
	if typ == "" {
		return domain.LedgerEvent{}, fmt.Errorf("%w: operation %s: missing type", ErrParse, id)
	}

	token, _ := payload["paging_token"].(string)
	seq, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return domain.LedgerEvent{}, fmt.Errorf("%w: operation %s: paging token %q", ErrParse, id, token)
	}

	// HAL-ссылки не нужны предикатам
	delete(payload, "_links")

	return domain.LedgerEvent{
		ID:         id,
		Source:     SourceHorizon,
		Type:       typ,
		Sequence:   seq,
		Payload:    payload,
		ObservedAt: observedAt,
	}, nil
}
