package upvotes

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/critics-guild/internal/common"
)

func TestRepository_Parties(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	critic := int64(200)
	mock.ExpectQuery("SELECT author_id, critic_id, state FROM requests").
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"author_id", "critic_id", "state"}).
			AddRow(int64(100), &critic, int16(3)))

	p, err := NewRepository(mock).Parties(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, &Parties{AuthorID: 100, CriticID: 200, Completed: true}, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_PartiesNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT author_id").
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"author_id", "critic_id", "state"}))

	_, err = NewRepository(mock).Parties(context.Background(), 10)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRepository_InsertVoteDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO votes").
		WithArgs(int64(10), int64(100), "critic").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = NewRepository(mock).InsertVote(context.Background(), 10, 100, SideCritic)
	require.ErrorIs(t, err, common.ErrConflict)
	assert.Equal(t, "you have already voted on this request", common.ReasonOf(err))
}
