package upvotes_test

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db/memory"
	"serotonyl.ru/critics-guild/internal/features/audit"
	"serotonyl.ru/critics-guild/internal/features/ledger"
	"serotonyl.ru/critics-guild/internal/features/requests"
	"serotonyl.ru/critics-guild/internal/features/upvotes"
	"serotonyl.ru/critics-guild/internal/tg"
)

const (
	author int64 = 100
	critic int64 = 200
)

func newUpvotes(t *testing.T, state requests.State) (*memory.Store, *upvotes.Service) {
	t.Helper()
	store := memory.New()
	journal := audit.NewService(store, store, nil, nil)
	led := ledger.NewService(store, store, journal, 3)
	store.PutUser(ledger.User{UserID: author})
	store.PutUser(ledger.User{UserID: critic})
	store.PutRequest(requests.Request{
		ThreadID: 10, AuthorID: author, CriticID: critic,
		Tier: common.TierCritic, Type: requests.TypeBPM, State: state,
	})
	return store, upvotes.NewService(store, store, journal, led)
}

func TestCast(t *testing.T) {
	ctx := context.Background()

	t.Run("author upvotes critic", func(t *testing.T) {
		store, svc := newUpvotes(t, requests.StateCompleted)
		ch, err := svc.Cast(ctx, 10, author, upvotes.SideCritic, 0)
		require.NoError(t, err)
		assert.Equal(t, critic, ch.UserID)
		assert.Equal(t, ledger.CounterCriticUpvotes, ch.Counter)

		u, _ := store.User(critic)
		assert.Equal(t, int64(1), u.CriticUpvotes)
		assert.Equal(t, int64(1), u.HistoricCriticUpvotes)
	})

	t.Run("critic upvotes mapper", func(t *testing.T) {
		store, svc := newUpvotes(t, requests.StateCompleted)
		_, err := svc.Cast(ctx, 10, critic, upvotes.SideMapper, 0)
		require.NoError(t, err)

		u, _ := store.User(author)
		assert.Equal(t, int64(1), u.MapperUpvotes)
		assert.Equal(t, int64(1), u.HistoricMapperUpvotes)
	})

	t.Run("second vote is rejected", func(t *testing.T) {
		store, svc := newUpvotes(t, requests.StateCompleted)
		_, err := svc.Cast(ctx, 10, author, upvotes.SideCritic, 0)
		require.NoError(t, err)

		_, err = svc.Cast(ctx, 10, author, upvotes.SideCritic, 0)
		require.ErrorIs(t, err, common.ErrConflict)

		u, _ := store.User(critic)
		assert.Equal(t, int64(1), u.CriticUpvotes)
	})

	t.Run("wrong side", func(t *testing.T) {
		_, svc := newUpvotes(t, requests.StateCompleted)
		_, err := svc.Cast(ctx, 10, author, upvotes.SideMapper, 0)
		assert.ErrorIs(t, err, common.ErrAuthorization)
	})

	t.Run("not completed", func(t *testing.T) {
		_, svc := newUpvotes(t, requests.StateClaimed)
		_, err := svc.Cast(ctx, 10, author, upvotes.SideCritic, 0)
		assert.ErrorIs(t, err, common.ErrInvalidState)
	})

	t.Run("self completed request cannot be upvoted", func(t *testing.T) {
		store, svc := newUpvotes(t, requests.StateCompleted)
		store.PutRequest(requests.Request{
			ThreadID: 11, AuthorID: critic, CriticID: critic,
			Tier: common.TierCritic, Type: requests.TypeBPM, State: requests.StateCompleted,
		})

		for _, side := range []upvotes.Side{upvotes.SideCritic, upvotes.SideMapper} {
			_, err := svc.Cast(ctx, 11, critic, side, 0)
			assert.ErrorIs(t, err, common.ErrAuthorization, side)
		}
		u, _ := store.User(critic)
		assert.Zero(t, u.CriticUpvotes)
		assert.Zero(t, u.MapperUpvotes)
	})

	t.Run("unknown request", func(t *testing.T) {
		_, svc := newUpvotes(t, requests.StateCompleted)
		_, err := svc.Cast(ctx, 77, author, upvotes.SideCritic, 0)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestParseCallback(t *testing.T) {
	id, side, dismiss, ok := upvotes.ParseCallback("vote|critic|42")
	assert.True(t, ok)
	assert.False(t, dismiss)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, upvotes.SideCritic, side)

	_, _, dismiss, ok = upvotes.ParseCallback("vote|dismiss")
	assert.True(t, ok)
	assert.True(t, dismiss)

	for _, bad := range []string{"", "vote", "vote|critic", "vote|judge|1", "vote|mapper|x", "casino|spin"} {
		_, _, _, ok := upvotes.ParseCallback(bad)
		assert.False(t, ok, bad)
	}
}

func TestKeyboardRoundTrip(t *testing.T) {
	kb := upvotes.Keyboard(10, upvotes.SideMapper)
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 2)

	id, side, dismiss, ok := upvotes.ParseCallback(*kb.InlineKeyboard[0][0].CallbackData)
	require.True(t, ok)
	assert.False(t, dismiss)
	assert.Equal(t, int64(10), id)
	assert.Equal(t, upvotes.SideMapper, side)
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()
	store, svc := newUpvotes(t, requests.StateCompleted)
	rec := &tg.Recorder{}
	h := upvotes.NewHandler(svc, rec)

	err := h.HandleCallback(ctx, upvotes.Callback{
		QueryID: "q1", ChatID: author, MessageID: 5, Voter: author, RequestID: 10, Side: upvotes.SideCritic,
	})
	require.NoError(t, err)

	u, _ := store.User(critic)
	assert.Equal(t, int64(1), u.CriticUpvotes)

	require.Len(t, rec.Requests, 2)
	_, ok := rec.Requests[0].(tgbotapi.EditMessageReplyMarkupConfig)
	assert.True(t, ok)
	answer, ok := rec.Requests[1].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Equal(t, "Upvoted!", answer.Text)
}

func TestHandleCallback_Dismiss(t *testing.T) {
	store, svc := newUpvotes(t, requests.StateCompleted)
	rec := &tg.Recorder{}
	h := upvotes.NewHandler(svc, rec)

	require.NoError(t, h.HandleCallback(context.Background(), upvotes.Callback{
		QueryID: "q1", ChatID: author, MessageID: 5, Voter: author, Dismiss: true,
	}))

	u, _ := store.User(critic)
	assert.Zero(t, u.CriticUpvotes)
}
