package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db"
	"serotonyl.ru/critics-guild/internal/db/memory"
	"serotonyl.ru/critics-guild/internal/features/ledger"
	"serotonyl.ru/critics-guild/internal/features/requests"
)

func TestWithinTx_ErrorRollsBack(t *testing.T) {
	s := memory.New()
	s.PutUser(ledger.User{UserID: 1, Tokens: 5})

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(ctx context.Context) error {
		s.PutUser(ledger.User{UserID: 1, Tokens: 0})
		return boom
	})
	require.ErrorIs(t, err, boom)

	u, _ := s.User(1)
	assert.Equal(t, int64(5), u.Tokens)
}

func TestWithinTx_PanicRollsBackAndUnlocks(t *testing.T) {
	s := memory.New()
	s.PutUser(ledger.User{UserID: 1, Tokens: 5})

	assert.Panics(t, func() {
		_ = s.WithinTx(context.Background(), func(ctx context.Context) error {
			s.PutUser(ledger.User{UserID: 1, Tokens: 0})
			panic("handler bug")
		})
	})

	u, _ := s.User(1)
	assert.Equal(t, int64(5), u.Tokens)

	// следующая транзакция не должна зависнуть
	err := s.WithinTx(context.Background(), func(ctx context.Context) error {
		s.PutUser(ledger.User{UserID: 1, Tokens: 7})
		return nil
	})
	require.NoError(t, err)
	u, _ = s.User(1)
	assert.Equal(t, int64(7), u.Tokens)
}

func TestWithinTx_HooksRunAfterCommit(t *testing.T) {
	s := memory.New()

	var ran bool
	err := s.WithinTx(context.Background(), func(ctx context.Context) error {
		db.AfterCommit(ctx, func() {
			// хук может открыть новую транзакцию
			_ = s.WithinTx(context.Background(), func(context.Context) error { return nil })
			ran = true
		})
		assert.False(t, ran)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestThreadMessages(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.PutRequest(requests.Request{ThreadID: 10, AuthorID: 100, State: requests.StateOpen})

	require.NoError(t, s.LinkMessage(ctx, 55, 10))
	require.NoError(t, s.LinkMessage(ctx, 55, 10))

	root, err := s.ThreadOf(ctx, 55)
	require.NoError(t, err)
	assert.Equal(t, int64(10), root)

	_, err = s.ThreadOf(ctx, 56)
	assert.ErrorIs(t, err, common.ErrNotFound)

	err = s.LinkMessage(ctx, 57, 999)
	assert.Equal(t, common.KindPersistence, common.KindOf(err))

	// привязка внутри откатившейся транзакции пропадает
	_ = s.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.LinkMessage(ctx, 58, 10))
		return errors.New("rollback")
	})
	_, err = s.ThreadOf(ctx, 58)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
