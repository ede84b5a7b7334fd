package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db"
)

func TestTxManager_Commit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	m := NewTxManager(mock)
	hooked := false
	err = m.WithinTx(context.Background(), func(ctx context.Context) error {
		assert.True(t, db.InScope(ctx))
		db.AfterCommit(ctx, func() { hooked = true })
		_, err := Conn(ctx, mock).Exec(ctx, "UPDATE users SET tokens = 1")
		assert.False(t, hooked, "hook must wait for commit")
		return err
	})
	require.NoError(t, err)
	assert.True(t, hooked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxManager_RollbackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	m := NewTxManager(mock)
	boom := common.Conflict("nope")
	hooked := false
	err = m.WithinTx(context.Background(), func(ctx context.Context) error {
		db.AfterCommit(ctx, func() { hooked = true })
		return boom
	})
	assert.Same(t, boom, err)
	assert.False(t, hooked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxManager_NestedJoinsOuter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	m := NewTxManager(mock)
	inner := 0
	err = m.WithinTx(context.Background(), func(ctx context.Context) error {
		return m.WithinTx(ctx, func(ctx context.Context) error {
			inner++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxManager_BeginFailureIsPersistence(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err = NewTxManager(mock).WithinTx(context.Background(), func(ctx context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, common.ErrPersistence)
	assert.False(t, common.IsExpected(err))
}

func TestRunMigrations(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	// v1 уже применена
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs(1).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	// v2 новая
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs(2).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("CREATE TABLE requests").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs(2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = RunMigrations(context.Background(), mock, []Migration{
		{Version: 1, SQL: "CREATE TABLE users (user_id BIGINT)"},
		{Version: 2, SQL: "CREATE TABLE requests (thread_id BIGINT)"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNullable(t *testing.T) {
	assert.Nil(t, Nullable(0))
	require.NotNil(t, Nullable(7))
	assert.Equal(t, int64(7), *Nullable(7))
	assert.Equal(t, int64(0), Deref(nil))
	assert.Equal(t, int64(7), Deref(Nullable(7)))
}
