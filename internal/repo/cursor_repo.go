package repo

import (
	"context"
	"errors"
	"fmt"
)

// LoadCursor возвращает сохранённый курсор источника или 0.
func (s *PGStore) LoadCursor(ctx context.Context, source string) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT sequence FROM ledger_cursors WHERE source = $1`, source).Scan(&seq)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	return seq, nil
}

// SaveCursor сохраняет курсор. Курсор не откатывается назад:
// меньшее значение игнорируется, чтобы запоздавший ack не вернул поток.
func (s *PGStore) SaveCursor(ctx context.Context, source string, sequence int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_cursors (source, sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (source) DO UPDATE
		SET sequence = GREATEST(ledger_cursors.sequence, EXCLUDED.sequence),
		    updated_at = NOW()
	`, source, sequence)
	if err != nil {
		return fmt.Errorf("save cursor: %w", classify(err))
	}
	return nil
}

// ResetCursor принудительно выставляет курсор (админская операция, в т.ч. назад).
func (s *PGStore) ResetCursor(ctx context.Context, source string, sequence int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_cursors (source, sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (source) DO UPDATE SET sequence = EXCLUDED.sequence, updated_at = NOW()
	`, source, sequence)
	if err != nil {
		return fmt.Errorf("reset cursor: %w", classify(err))
	}
	return nil
}
