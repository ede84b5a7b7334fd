package members_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/config"
	"serotonyl.ru/critics-guild/internal/db/memory"
	"serotonyl.ru/critics-guild/internal/features/audit"
	"serotonyl.ru/critics-guild/internal/features/members"
	"serotonyl.ru/critics-guild/internal/features/policy"
	"serotonyl.ru/critics-guild/internal/tg"
)

func newMembers(t *testing.T) (*memory.Store, *members.Service) {
	t.Helper()
	store := memory.New()
	journal := audit.NewService(store, store, nil, nil)
	cfg := &config.Config{AdminIDs: []int64{1}}
	return store, members.NewService(store, store, journal, cfg)
}

func strPtr(s string) *string { return &s }

func TestTouch_KeepsRole(t *testing.T) {
	store, svc := newMembers(t)
	ctx := context.Background()
	store.PutMember(members.Member{UserID: 5, Username: "old", Role: strPtr("critic")})

	require.NoError(t, svc.Touch(ctx, members.Profile{UserID: 5, Username: "new"}))

	m, err := store.GetByUserID(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "new", m.Username)
	assert.Equal(t, "critic", m.RoleName())
}

func TestActor(t *testing.T) {
	store, svc := newMembers(t)
	ctx := context.Background()
	store.PutMember(members.Member{UserID: 5, Role: strPtr("trusted_critic")})
	store.PutMember(members.Member{UserID: 6, IsAdmin: true})

	assert.True(t, policy.IsTrustedCritic(svc.Actor(ctx, 5).Roles))
	assert.False(t, policy.IsAdmin(svc.Actor(ctx, 5).Roles))
	assert.True(t, policy.IsAdmin(svc.Actor(ctx, 6).Roles))
	// из ADMIN_IDS, даже если участник не записан
	assert.True(t, policy.IsAdmin(svc.Actor(ctx, 1).Roles))
	assert.Equal(t, policy.Actor{UserID: 42}, svc.Actor(ctx, 42))
}

func TestResolve(t *testing.T) {
	store, svc := newMembers(t)
	ctx := context.Background()
	store.PutMember(members.Member{UserID: 5, Username: "Reviewer"})

	id, err := svc.Resolve(ctx, "@reviewer")
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)

	_, err = svc.Resolve(ctx, "@ghost")
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, "nobody with username @ghost has been seen yet", common.ReasonOf(err))

	assert.Equal(t, "@Reviewer", svc.DisplayName(ctx, 5))
	assert.Equal(t, "user#9", svc.DisplayName(ctx, 9))
}

func TestSetRole(t *testing.T) {
	ctx := context.Background()

	t.Run("grants and journals", func(t *testing.T) {
		store, svc := newMembers(t)
		store.PutMember(members.Member{UserID: 5})

		from, to, err := svc.SetRole(ctx, 5, "trusted", 0)
		require.NoError(t, err)
		assert.Equal(t, "none", from)
		assert.Equal(t, "trusted_critic", to)

		entries := store.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, audit.ClassResult, entries[0].Class)
		assert.Equal(t, "User 5 role changed from none to trusted_critic.", entries[0].Summary)
	})

	t.Run("none removes the role", func(t *testing.T) {
		store, svc := newMembers(t)
		store.PutMember(members.Member{UserID: 5, Role: strPtr("critic")})

		_, to, err := svc.SetRole(ctx, 5, "none", 0)
		require.NoError(t, err)
		assert.Equal(t, "none", to)

		m, _ := store.GetByUserID(ctx, 5)
		assert.Nil(t, m.Role)
	})

	t.Run("unknown role", func(t *testing.T) {
		store, svc := newMembers(t)
		store.PutMember(members.Member{UserID: 5})

		_, _, err := svc.SetRole(ctx, 5, "overlord", 0)
		require.ErrorIs(t, err, common.ErrRoleUnknown)
		assert.True(t, audit.Recorded(err))
		require.Len(t, store.Entries(), 1)
		assert.Equal(t, audit.ClassError, store.Entries()[0].Class)
	})

	t.Run("not a member", func(t *testing.T) {
		store, svc := newMembers(t)

		_, _, err := svc.SetRole(ctx, 5, "critic", 0)
		require.ErrorIs(t, err, common.ErrNotFound)
		m, _ := store.GetByUserID(ctx, 5)
		assert.Nil(t, m)
	})
}

func TestHandleRoles(t *testing.T) {
	store, svc := newMembers(t)
	store.PutMember(members.Member{UserID: 5, Username: "anna", Role: strPtr("critic")})
	store.PutMember(members.Member{UserID: 6, Username: "boris", Role: strPtr("trusted_critic")})
	store.PutMember(members.Member{UserID: 7, Username: "nobody"})

	rec := &tg.Recorder{}
	h := members.NewHandler(svc, rec)
	require.NoError(t, h.HandleRoles(context.Background(), &tg.Command{ChatID: 9, MessageID: 1}))

	assert.Equal(t, []string{"Roles:\n@boris - trusted_critic\n@anna - critic"}, rec.To(9))
}
