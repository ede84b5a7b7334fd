package requests

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/critics-guild/internal/common"
)

var requestRowColumns = []string{"thread_id", "author_id", "list", "critic_id", "type", "state"}

func TestRepository_GetRequest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var noCritic *int64
	mock.ExpectQuery(`SELECT thread_id, author_id, list, critic_id, type, state FROM requests`).
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows(requestRowColumns).
			AddRow(int64(10), int64(100), int16(2), noCritic, int16(8), int16(1)))

	r, err := NewRepository(mock).GetRequest(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, &Request{
		ThreadID: 10, AuthorID: 100, Tier: common.TierCritic, Type: TypeBPM, State: StateOpen,
	}, r)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetRequestForUpdateNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows(requestRowColumns))

	_, err = NewRepository(mock).GetRequestForUpdate(context.Background(), 10)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRepository_InsertRequestDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var noCritic *int64
	mock.ExpectExec(`INSERT INTO requests`).
		WithArgs(int64(10), int64(100), int16(1), noCritic, int16(8), int16(1)).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = NewRepository(mock).InsertRequest(context.Background(), &Request{
		ThreadID: 10, AuthorID: 100, Tier: common.TierOpen, Type: TypeBPM, State: StateOpen,
	})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestRepository_UpdateRequest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	critic := int64(200)
	mock.ExpectExec(`UPDATE requests`).
		WithArgs(int64(10), &critic, int16(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE requests`).
		WithArgs(int64(11), &critic, int16(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewRepository(mock)
	require.NoError(t, repo.UpdateRequest(context.Background(), &Request{ThreadID: 10, CriticID: 200, State: StateClaimed}))

	err = repo.UpdateRequest(context.Background(), &Request{ThreadID: 11, CriticID: 200, State: StateClaimed})
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CountActiveByAuthor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM requests`).
		WithArgs(int64(100), int16(1), int16(2)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	n, err := NewRepository(mock).CountActiveByAuthor(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRepository_DriverFailureIsPersistence(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	down := errors.New("connection reset")
	mock.ExpectQuery(`FROM requests`).WithArgs(int64(10)).WillReturnError(down)
	mock.ExpectExec(`UPDATE requests`).WillReturnError(down)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM requests`).WillReturnError(down)

	repo := NewRepository(mock)
	ctx := context.Background()

	_, err = repo.GetRequest(ctx, 10)
	assert.ErrorIs(t, err, common.ErrPersistence)
	assert.ErrorIs(t, err, down)
	assert.Equal(t, common.KindPersistence, common.KindOf(err))

	err = repo.UpdateRequest(ctx, &Request{ThreadID: 10, State: StateClaimed})
	assert.Equal(t, common.KindPersistence, common.KindOf(err))

	_, err = repo.CountActiveByAuthor(ctx, 100)
	assert.Equal(t, common.KindPersistence, common.KindOf(err))
	assert.False(t, common.IsExpected(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ThreadMessages(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO thread_messages`).
		WithArgs(int64(55), int64(10)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT thread_id FROM thread_messages`).
		WithArgs(int64(55)).
		WillReturnRows(pgxmock.NewRows([]string{"thread_id"}).AddRow(int64(10)))
	mock.ExpectQuery(`SELECT thread_id FROM thread_messages`).
		WithArgs(int64(56)).
		WillReturnRows(pgxmock.NewRows([]string{"thread_id"}))

	repo := NewRepository(mock)
	ctx := context.Background()

	require.NoError(t, repo.LinkMessage(ctx, 55, 10))

	root, err := repo.ThreadOf(ctx, 55)
	require.NoError(t, err)
	assert.Equal(t, int64(10), root)

	_, err = repo.ThreadOf(ctx, 56)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
