package bot

import (
	"context"
	"fmt"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/critics-guild/internal/config"
	"serotonyl.ru/critics-guild/internal/db/memory"
	"serotonyl.ru/critics-guild/internal/features/admin"
	"serotonyl.ru/critics-guild/internal/features/audit"
	"serotonyl.ru/critics-guild/internal/features/ledger"
	"serotonyl.ru/critics-guild/internal/features/members"
	"serotonyl.ru/critics-guild/internal/features/requests"
	"serotonyl.ru/critics-guild/internal/features/upvotes"
	"serotonyl.ru/critics-guild/internal/tg"
)

const (
	requestsChat int64 = -1001
	logChat      int64 = -1002

	adminID   int64 = 1
	author    int64 = 100
	critic    int64 = 200
	trusted   int64 = 300
	outsider  int64 = 400
	recipient int64 = 500
)

type allowAll struct{}

func (allowAll) CheckAccess(context.Context, *tgbotapi.Message) bool { return true }

type sessions map[int64]bool

func (s sessions) HasActiveSession(_ context.Context, userID int64) bool { return s[userID] }

type fixture struct {
	store *memory.Store
	rec   *tg.Recorder
	bot   *Bot
}

func newFixture(t *testing.T, open sessions) *fixture {
	t.Helper()
	cfg := &config.Config{
		RequestsChatID:    requestsChat,
		LogChatID:         logChat,
		AdminIDs:          []int64{adminID},
		MonthlyTokens:     3,
		MaxRequests:       1,
		MaxPenalties:      3,
		OpenTag:           "open",
		CriticTag:         "critic",
		TrustedTag:        "trusted",
		OpenTypes:         []string{"previewer", "bpm"},
		CriticCosts:       map[string]int64{"previewer": 1, "bpm": 1},
		CriticRewards:     map[string]int64{"previewer": 1, "bpm": 2},
		TrustedCosts:      map[string]int64{"previewer": 2},
		TrustedRewards:    map[string]int64{"previewer": 2},
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
	}

	store := memory.New()
	journal := audit.NewService(store, store, nil, nil)
	led := ledger.NewService(store, store, journal, cfg.MonthlyTokens)
	pricing, err := requests.NewPricing(cfg)
	require.NoError(t, err)
	reqs := requests.NewService(store, store, journal, led, pricing)
	mem := members.NewService(store, store, journal, cfg)
	votes := upvotes.NewService(store, store, journal, led)

	rec := &tg.Recorder{}
	handlers := Handlers{
		Members:  members.NewHandler(mem, rec),
		Ledger:   ledger.NewHandler(led, mem, rec),
		Requests: requests.NewHandler(reqs, led, journal, mem, rec, cfg),
		Audit:    audit.NewHandler(journal, rec),
		Upvotes:  upvotes.NewHandler(votes, rec),
		Admin:    admin.NewHandler(admin.NewService(nil, ""), rec),
	}
	b := newBot(rec, cfg, journal, mem, open, handlers, allowAll{})
	t.Cleanup(b.rateLimiter.Close)

	critics := "critic"
	trustedRole := "trusted_critic"
	store.PutMember(members.Member{UserID: critic, Username: "crit", Role: &critics})
	store.PutMember(members.Member{UserID: trusted, Username: "boss", Role: &trustedRole})
	store.PutMember(members.Member{UserID: recipient, Username: "anna"})

	return &fixture{store: store, rec: rec, bot: b}
}

func message(chatID, from int64, id int, text string) *tgbotapi.Message {
	chatType := "supergroup"
	if chatID == from {
		chatType = "private"
	}
	return &tgbotapi.Message{
		MessageID: id,
		Chat:      &tgbotapi.Chat{ID: chatID, Type: chatType},
		From:      &tgbotapi.User{ID: from, UserName: fmt.Sprintf("u%d", from)},
		Text:      text,
	}
}

func reply(m, to *tgbotapi.Message) *tgbotapi.Message {
	m.ReplyToMessage = to
	return m
}

func (f *fixture) tokens(userID int64) int64 {
	u, _ := f.store.User(userID)
	return u.Tokens
}

func (f *fixture) last(chatID int64) string {
	texts := f.rec.To(chatID)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func TestParseCommand(t *testing.T) {
	p := NewCommandParser()

	tests := []struct {
		text      string
		kind      CommandKind
		args      []string
		isCommand bool
	}{
		{"/reserve", CmdReserve, nil, true},
		{"!GiftTokens 3 @anna", CmdGiftTokens, []string{"3", "@anna"}, true},
		{".status", CmdStatus, nil, true},
		{"/checktokens@GuildBot @anna", CmdCheckTokens, []string{"@anna"}, true},
		{"/start", CmdHelp, nil, true},
		{"/dance", CmdUnknown, nil, true},
		{"#critic #bpm", CmdUnknown, nil, false},
		{"/", CmdUnknown, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			kind, args, isCommand := p.ParseCommand(tt.text)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.args, args)
			assert.Equal(t, tt.isCommand, isCommand)
		})
	}
}

func TestCommandKindNames(t *testing.T) {
	assert.Equal(t, "help", CmdHelp.String())
	assert.Equal(t, "setmapperupvotes", CmdSetMapperUpvotes.String())
	assert.Equal(t, "unknown", CmdUnknown.String())
}

func TestCommandSummary_HidesPassword(t *testing.T) {
	assert.Equal(t, "User 7 used /login.", commandSummary(7, CmdLogin, []string{"hunter2"}))
	assert.Equal(t, "User 7 used /gifttokens 3 @anna.", commandSummary(7, CmdGiftTokens, []string{"3", "@anna"}))
}

func TestRequestFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.PutUser(ledger.User{UserID: author, Tokens: 3})

	post := message(requestsChat, author, 10, "#critic #bpm please look at my map")
	f.bot.handleMessage(ctx, post)

	r, ok := f.store.Request(10)
	require.True(t, ok)
	assert.Equal(t, requests.StateOpen, r.State)
	assert.Equal(t, int64(2), f.tokens(author))

	f.bot.handleMessage(ctx, reply(message(requestsChat, critic, 11, "/reserve"), post))
	r, _ = f.store.Request(10)
	assert.Equal(t, requests.StateClaimed, r.State)
	assert.Equal(t, critic, r.CriticID)

	f.bot.handleMessage(ctx, reply(message(requestsChat, trusted, 12, "/complete great feedback"), post))
	r, _ = f.store.Request(10)
	assert.Equal(t, requests.StateCompleted, r.State)
	assert.Equal(t, int64(2), f.tokens(critic))

	// каждая команда записана как COMMAND и стала причиной своих записей
	var commands int
	for _, e := range f.store.Entries() {
		if e.Class == audit.ClassCommand {
			commands++
		}
		if e.Class == audit.ClassResult {
			assert.NotZero(t, e.CauseID, e.Summary)
		}
	}
	assert.Equal(t, 3, commands)
}

func TestDispatch_GateRejects(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.PutRequest(requests.Request{ThreadID: 10, AuthorID: author, State: requests.StateOpen})

	post := message(requestsChat, author, 10, "#critic #bpm")
	f.bot.handleMessage(ctx, reply(message(requestsChat, outsider, 11, "/reserve"), post))

	assert.Equal(t, "❌ only critics may do this", f.last(requestsChat))
	r, _ := f.store.Request(10)
	assert.Equal(t, requests.StateOpen, r.State)

	entries := f.store.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ClassCommand, entries[0].Class)
	assert.Equal(t, audit.ClassError, entries[1].Class)
	assert.Equal(t, entries[0].ID, entries[1].CauseID)
}

func TestDispatch_ThreadCommandNeedsReply(t *testing.T) {
	f := newFixture(t, nil)

	f.bot.handleMessage(context.Background(), message(requestsChat, critic, 11, "/reserve"))
	assert.Contains(t, f.last(requestsChat), "❌ ")
}

func TestDispatch_AdminPlaces(t *testing.T) {
	ctx := context.Background()

	t.Run("refused outside the log chat", func(t *testing.T) {
		f := newFixture(t, nil)
		f.bot.handleMessage(ctx, message(requestsChat, adminID, 20, "/settokens @anna 5"))
		assert.Equal(t, "❌ admin commands are only accepted in the log chat or a private chat", f.last(requestsChat))
		assert.Zero(t, f.tokens(recipient))
	})

	t.Run("accepted in the log chat", func(t *testing.T) {
		f := newFixture(t, nil)
		f.bot.handleMessage(ctx, message(logChat, adminID, 20, "/settokens @anna 5"))
		assert.Equal(t, int64(5), f.tokens(recipient))
	})

	t.Run("private chat needs a session", func(t *testing.T) {
		f := newFixture(t, nil)
		f.bot.handleMessage(ctx, message(adminID, adminID, 20, "/settokens @anna 5"))
		assert.Equal(t, "❌ log in first with /login <password>", f.last(adminID))

		f = newFixture(t, sessions{adminID: true})
		f.bot.handleMessage(ctx, message(adminID, adminID, 21, "/settokens @anna 5"))
		assert.Equal(t, int64(5), f.tokens(recipient))
	})

	t.Run("non-admin in the log chat", func(t *testing.T) {
		f := newFixture(t, nil)
		f.bot.handleMessage(ctx, message(logChat, trusted, 20, "/resetclaims"))
		assert.Contains(t, f.last(logChat), "❌ ")
	})
}

func TestDispatch_UnknownUsername(t *testing.T) {
	f := newFixture(t, nil)
	f.store.PutUser(ledger.User{UserID: author, Tokens: 3})

	f.bot.handleMessage(context.Background(), message(requestsChat, author, 30, "/gifttokens 1 @ghost"))
	assert.Equal(t, "❌ nobody with username @ghost has been seen yet", f.last(requestsChat))
	assert.Equal(t, int64(3), f.tokens(author))
}

func TestDispatch_GiftResolvesTarget(t *testing.T) {
	f := newFixture(t, nil)
	f.store.PutUser(ledger.User{UserID: author, Tokens: 3})

	f.bot.handleMessage(context.Background(), message(requestsChat, author, 30, "/gifttokens @anna 2"))
	assert.Equal(t, int64(1), f.tokens(author))
	assert.Equal(t, int64(2), f.tokens(recipient))
}

func TestHandleMessage_TouchesMembers(t *testing.T) {
	f := newFixture(t, nil)

	f.bot.handleMessage(context.Background(), message(logChat, 777, 40, "hello"))
	m, err := f.store.GetByUserID(context.Background(), 777)
	require.NoError(t, err)
	assert.Equal(t, "u777", m.Username)
}

func TestHandleUpdate_RecoversFromPanic(t *testing.T) {
	f := newFixture(t, nil)
	f.bot.routes[CmdPing] = route{CmdPing, gateNone, anywhere, func(context.Context, *tg.Command) error {
		panic("boom")
	}}

	assert.NotPanics(t, func() {
		f.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: message(logChat, adminID, 50, "/ping")})
	})
}
