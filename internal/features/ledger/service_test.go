package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db/memory"
	"serotonyl.ru/critics-guild/internal/features/audit"
	"serotonyl.ru/critics-guild/internal/features/ledger"
)

func newLedger(t *testing.T) (*memory.Store, *ledger.Service) {
	t.Helper()
	store := memory.New()
	journal := audit.NewService(store, store, nil, nil)
	return store, ledger.NewService(store, store, journal, 3)
}

func TestApply_UpdatesCounterAndHistoric(t *testing.T) {
	store, svc := newLedger(t)
	ctx := context.Background()

	prev, next, err := svc.Apply(ctx, 7, ledger.CounterStars, ledger.Add(2),
		ledger.ApplyOptions{Cause: 0, UpdateHistoric: true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), prev)
	assert.Equal(t, int64(2), next)

	u, ok := store.User(7)
	require.True(t, ok)
	assert.Equal(t, int64(2), u.Stars)
	assert.Equal(t, int64(2), u.HistoricStars)

	entries := store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ClassResult, entries[0].Class)
	assert.Equal(t, int64(7), entries[0].UserID)
	assert.Equal(t, "User 7 went from 0⭐stars to 2⭐stars.", entries[0].Summary)
}

func TestApply_WithoutHistoricLeavesTwinAlone(t *testing.T) {
	store, svc := newLedger(t)
	store.PutUser(ledger.User{UserID: 1, CriticUpvotes: 5, HistoricCriticUpvotes: 9})

	_, next, err := svc.Apply(context.Background(), 1, ledger.CounterCriticUpvotes, ledger.Set(0), ledger.ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), next)

	u, _ := store.User(1)
	assert.Equal(t, int64(9), u.HistoricCriticUpvotes)
}

func TestApply_LogFailureRollsBack(t *testing.T) {
	store, svc := newLedger(t)
	store.PutUser(ledger.User{UserID: 1, Tokens: 4})
	store.FailInsertLog = errors.New("disk full")

	_, _, err := svc.Apply(context.Background(), 1, ledger.CounterTokens, ledger.Add(1), ledger.ApplyOptions{})
	require.Error(t, err)

	u, _ := store.User(1)
	assert.Equal(t, int64(4), u.Tokens)
}

func TestClaimMonthly(t *testing.T) {
	store, svc := newLedger(t)
	ctx := context.Background()

	ch, err := svc.ClaimMonthly(ctx, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ch.Prev)
	assert.Equal(t, int64(3), ch.Next)

	_, err = svc.ClaimMonthly(ctx, 5, 0)
	require.ErrorIs(t, err, common.ErrAlreadyClaimed)
	assert.True(t, audit.Recorded(err))

	u, _ := store.User(5)
	assert.Equal(t, int64(3), u.Tokens)
	assert.True(t, u.ClaimedTokens)

	entries := store.Entries()
	last := entries[len(entries)-1]
	assert.Equal(t, audit.ClassError, last.Class)
}

func TestResetMonthlyClaims(t *testing.T) {
	store, svc := newLedger(t)
	ctx := context.Background()
	store.PutUser(ledger.User{UserID: 1, ClaimedTokens: true})
	store.PutUser(ledger.User{UserID: 2, ClaimedTokens: true})
	store.PutUser(ledger.User{UserID: 3})

	n, err := svc.ResetMonthlyClaims(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = svc.ClaimMonthly(ctx, 1, 0)
	assert.NoError(t, err)
}

func TestGift(t *testing.T) {
	ctx := context.Background()

	t.Run("moves tokens", func(t *testing.T) {
		store, svc := newLedger(t)
		store.PutUser(ledger.User{UserID: 1, Tokens: 5})

		sent, received, err := svc.Gift(ctx, 1, 2, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), sent.Next)
		assert.Equal(t, int64(2), received.Next)
	})

	t.Run("insufficient funds changes nothing", func(t *testing.T) {
		store, svc := newLedger(t)
		store.PutUser(ledger.User{UserID: 1, Tokens: 1})

		_, _, err := svc.Gift(ctx, 1, 2, 2, 0)
		require.ErrorIs(t, err, common.ErrInsufficientFunds)
		assert.Equal(t, "you only have 1🔹token", common.ReasonOf(err))

		u, _ := store.User(1)
		assert.Equal(t, int64(1), u.Tokens)
		_, ok := store.User(2)
		assert.False(t, ok)
	})

	t.Run("self gift", func(t *testing.T) {
		_, svc := newLedger(t)
		_, _, err := svc.Gift(ctx, 1, 1, 1, 0)
		assert.ErrorIs(t, err, common.ErrSelfGift)
	})

	t.Run("non positive amount", func(t *testing.T) {
		_, svc := newLedger(t)
		_, _, err := svc.Gift(ctx, 1, 2, 0, 0)
		assert.ErrorIs(t, err, common.ErrNonPositiveAmount)
	})
}

func TestRewardTokens_UnknownUserIsNotCreated(t *testing.T) {
	store, svc := newLedger(t)

	_, err := svc.RewardTokens(context.Background(), 42, 2, 0)
	require.ErrorIs(t, err, common.ErrNotFound)

	_, ok := store.User(42)
	assert.False(t, ok)
}

func TestRewardStar_UpdatesHistoric(t *testing.T) {
	store, svc := newLedger(t)
	store.PutUser(ledger.User{UserID: 3, Stars: 1, HistoricStars: 4})

	ch, err := svc.RewardStar(context.Background(), 3, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ch.Next)

	u, _ := store.User(3)
	assert.Equal(t, int64(5), u.HistoricStars)
}

func TestSet(t *testing.T) {
	store, svc := newLedger(t)
	ctx := context.Background()
	store.PutUser(ledger.User{UserID: 1, Tokens: 2})

	ch, err := svc.Set(ctx, 1, ledger.CounterTokens, -3, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ch.Prev)
	assert.Equal(t, int64(-3), ch.Next)

	_, err = svc.Set(ctx, 1, ledger.CounterStakes, 1, 0)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestResetLeaderboards_KeepsHistoric(t *testing.T) {
	store, svc := newLedger(t)
	store.PutUser(ledger.User{UserID: 1, Stars: 2, HistoricStars: 6, MapperUpvotes: 1, HistoricMapperUpvotes: 1})
	store.PutUser(ledger.User{UserID: 2, Tokens: 8})

	n, err := svc.ResetLeaderboards(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	u, _ := store.User(1)
	assert.Zero(t, u.Stars)
	assert.Zero(t, u.MapperUpvotes)
	assert.Equal(t, int64(6), u.HistoricStars)
	assert.Equal(t, int64(1), u.HistoricMapperUpvotes)

	u2, _ := store.User(2)
	assert.Equal(t, int64(8), u2.Tokens)
}

func TestLeaderboard(t *testing.T) {
	store, svc := newLedger(t)
	ctx := context.Background()
	store.PutUser(ledger.User{UserID: 1, Stars: 2, HistoricStars: 2})
	store.PutUser(ledger.User{UserID: 2, Stars: 5, HistoricStars: 5})
	store.PutUser(ledger.User{UserID: 3, HistoricStars: 9})

	top, err := svc.Leaderboard(ctx, ledger.CounterStars, false, 0)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Standing{{UserID: 2, Value: 5}, {UserID: 1, Value: 2}}, top)

	top, err = svc.Leaderboard(ctx, ledger.CounterStars, true, 1)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Standing{{UserID: 3, Value: 9}}, top)

	_, err = svc.Leaderboard(ctx, ledger.CounterTokens, false, 0)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = svc.Leaderboard(ctx, ledger.CounterCompletedMapper, true, 0)
	assert.ErrorIs(t, err, common.ErrValidation)
}
