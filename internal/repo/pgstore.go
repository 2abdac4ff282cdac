package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time проверки интерфейсов.
var (
	_ Store = (*PGStore)(nil)
	_ Tx    = (*pgTx)(nil)
)

// querier — общее у *pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// scanner — общее у pgx.Row и pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// PGStore — хранилище на PostgreSQL.
//
// Очередь шагов живёт в той же БД, что и workflows, поэтому
// смена статуса шага и постановка следующего задания коммитятся вместе.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore создаёт новый PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Pool возвращает пул соединений.
func (s *PGStore) Pool() *pgxpool.Pool {
	return s.pool
}

// WithTx выполняет fn в транзакции READ COMMITTED.
// Блокировки берутся явно через SELECT ... FOR UPDATE.
func (s *PGStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}
	// После Commit откат — no-op
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}
	return nil
}

// pgTx реализует Tx поверх pgx.Tx.
type pgTx struct {
	q querier
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
