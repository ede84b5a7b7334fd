package members

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/critics-guild/internal/common"
)

var memberCols = []string{"user_id", "username", "first_name", "last_name", "role", "is_admin", "joined_at", "updated_at"}

func TestRepository_GetByUsername(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	role := "critic"
	mock.ExpectQuery(`FROM members WHERE LOWER\(username\) = LOWER\(\$1\)`).
		WithArgs("Anna").
		WillReturnRows(pgxmock.NewRows(memberCols).
			AddRow(int64(5), "anna", "Anna", "", &role, false, now, now))

	m, err := NewRepository(mock).GetByUsername(context.Background(), "Anna")
	require.NoError(t, err)
	assert.Equal(t, int64(5), m.UserID)
	assert.Equal(t, "critic", m.RoleName())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetByUserIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM members WHERE user_id").
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows(memberCols))

	_, err = NewRepository(mock).GetByUserID(context.Background(), 5)
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, "user 5 is not a member", common.ReasonOf(err))
}

func TestRepository_UpdateRoleMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var none *string
	mock.ExpectExec("UPDATE members SET role").
		WithArgs(int64(5), none).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = NewRepository(mock).UpdateRole(context.Background(), 5, nil)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO members").
		WithArgs(int64(5), "anna", "Anna", "K").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewRepository(mock).Upsert(context.Background(), Profile{UserID: 5, Username: "anna", FirstName: "Anna", LastName: "K"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
