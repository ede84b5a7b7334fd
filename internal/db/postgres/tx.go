package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db"
)

type txKey struct{}

// TxManager реализует db.Transactor поверх пула.
// Транзакция кладётся в контекст; репозитории достают её через Conn.
type TxManager struct {
	db DB
}

// NewTxManager создаёт менеджер транзакций.
func NewTxManager(pool DB) *TxManager {
	return &TxManager{db: pool}
}

// WithinTx выполняет fn в транзакции. Вложенный вызов присоединяется
// к уже открытой. Ошибка fn откатывает всё; хуки AfterCommit
// срабатывают только после успешного Commit.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return common.Persistence(err, "begin transaction")
	}
	// после Commit это no-op
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.WithError(rbErr).Debug("rollback после фиксации/ошибки")
		}
	}()

	scoped, scope := db.Begin(ctx)
	if err := fn(context.WithValue(scoped, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return common.Persistence(err, "commit transaction")
	}
	scope.Committed()
	return nil
}

// Conn возвращает транзакцию из контекста или сам пул.
func Conn(ctx context.Context, pool DB) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}
