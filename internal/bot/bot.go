// Package bot — приём апдейтов Telegram и диспетчер команд.
// bot.go запускает polling и раскладывает апдейты: команды, заявки
// в чате заявок, ответы под заявками и нажатия кнопок голосования.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/bot/middleware"
	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/config"
	"serotonyl.ru/critics-guild/internal/features/admin"
	"serotonyl.ru/critics-guild/internal/features/audit"
	"serotonyl.ru/critics-guild/internal/features/ledger"
	"serotonyl.ru/critics-guild/internal/features/members"
	"serotonyl.ru/critics-guild/internal/features/requests"
	"serotonyl.ru/critics-guild/internal/features/upvotes"
	"serotonyl.ru/critics-guild/internal/metrics"
	"serotonyl.ru/critics-guild/internal/tg"
)

const genericFailure = "Something went wrong on our side. The operators have been notified."

// Handlers — обработчики фич, к которым ведут маршруты.
type Handlers struct {
	Members  *members.Handler
	Ledger   *ledger.Handler
	Requests *requests.Handler
	Audit    *audit.Handler
	Upvotes  *upvotes.Handler
	Admin    *admin.Handler
}

// AccessFilter решает, обрабатывать ли сообщение.
type AccessFilter interface {
	CheckAccess(ctx context.Context, message *tgbotapi.Message) bool
}

// SessionChecker — открыта ли админ-сессия.
type SessionChecker interface {
	HasActiveSession(ctx context.Context, userID int64) bool
}

// Bot — главная структура бота, объединяющая все компоненты.
type Bot struct {
	api *tgbotapi.BotAPI
	bot tg.Sender
	cfg *config.Config

	journal  *audit.Service
	members  *members.Service
	sessions SessionChecker
	handlers Handlers

	access      AccessFilter
	rateLimiter *middleware.RateLimiter
	parser      *CommandParser
	routes      map[CommandKind]route

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт бота поверх Telegram Bot API.
func New(
	api *tgbotapi.BotAPI,
	cfg *config.Config,
	journal *audit.Service,
	memberService *members.Service,
	sessions SessionChecker,
	handlers Handlers,
	access AccessFilter,
) *Bot {
	b := newBot(api, cfg, journal, memberService, sessions, handlers, access)
	b.api = api
	return b
}

func newBot(
	sender tg.Sender,
	cfg *config.Config,
	journal *audit.Service,
	memberService *members.Service,
	sessions SessionChecker,
	handlers Handlers,
	access AccessFilter,
) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	b := &Bot{
		bot:         sender,
		cfg:         cfg,
		journal:     journal,
		members:     memberService,
		sessions:    sessions,
		handlers:    handlers,
		access:      access,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		parser:      NewCommandParser(),
		inflight:    make(chan struct{}, maxInFlight),
	}
	b.routes = b.buildRoutes()
	return b
}

// Start запускает polling обновлений от Telegram и блокируется до ctx.Done.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"max_inflight": cap(b.inflight),
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			b.rateLimiter.Close()
			// ждём хендлеры, которые ещё работают
			for i := 0; i < cap(b.inflight); i++ {
				b.inflight <- struct{}{}
			}
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer middleware.RecoverFromPanic(b.journal.Alert)

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.Chat == nil || message.From == nil {
		return
	}

	if len(message.NewChatMembers) > 0 {
		if message.Chat.ID == b.cfg.RequestsChatID {
			b.handlers.Members.HandleNewChatMembers(ctx, message.NewChatMembers)
		}
		return
	}

	middleware.LogMessage(message)

	if !b.access.CheckAccess(ctx, message) {
		return
	}

	if err := b.members.Touch(ctx, members.Profile{
		UserID:    message.From.ID,
		Username:  message.From.UserName,
		FirstName: message.From.FirstName,
		LastName:  message.From.LastName,
	}); err != nil {
		log.WithError(err).WithField("user_id", message.From.ID).Warn("Не удалось обновить участника")
	}

	kind, args, isCommand := b.parser.ParseCommand(message.Text)
	log.WithFields(log.Fields{
		"is_command": isCommand,
		"cmd":        kind.String(),
		"args":       args,
	}).Debug("Разобрана команда")

	switch {
	case isCommand:
		if kind == CmdUnknown {
			return
		}
		if ok, retry, warn := b.rateLimiter.Allow(message.From.ID); !ok {
			log.WithField("user_id", message.From.ID).Debug("rate limited")
			metrics.ObserveCommand(kind.String(), "throttled", 0)
			if warn {
				tg.Reply(b.bot, message.Chat.ID, message.MessageID,
					fmt.Sprintf("⏳ Too many commands. Try again in %d s.", int(retry.Seconds())+1))
			}
			return
		}
		b.dispatch(ctx, message, kind, args)

	case message.Chat.ID == b.cfg.RequestsChatID && message.ReplyToMessage == nil:
		b.handlePost(ctx, message)

	case message.Chat.ID == b.cfg.RequestsChatID:
		b.handleResponse(ctx, message)
	}
}

// dispatch выполняет команду: COMMAND-запись, разбор @username,
// проверка прав, хендлер. Ошибку пишет в журнал (если хендлер ещё
// не записал) и показывает пользователю.
func (b *Bot) dispatch(ctx context.Context, message *tgbotapi.Message, kind CommandKind, args []string) {
	started := time.Now()
	r := b.routes[kind]
	userID := message.From.ID

	cmd := &tg.Command{
		ChatID:    message.Chat.ID,
		MessageID: message.MessageID,
		Actor:     b.members.Actor(ctx, userID),
		Username:  message.From.UserName,
		Args:      args,
	}
	if reply := message.ReplyToMessage; reply != nil {
		cmd.ReplyTo = reply.MessageID
		if reply.From != nil && !reply.From.IsBot {
			cmd.ReplyAuthor = reply.From.ID
		}
	}

	cause, err := b.journal.Command(ctx, audit.Ref{UserID: userID}, "%s", commandSummary(userID, kind, args))
	if err != nil {
		log.WithError(err).WithField("cmd", kind.String()).Error("Не удалось записать команду в журнал")
		metrics.ObserveCommand(kind.String(), outcome(err), time.Since(started))
		tg.Reply(b.bot, cmd.ChatID, cmd.MessageID, "❌ "+genericFailure)
		return
	}
	cmd.Cause = cause

	err = b.resolveTarget(ctx, cmd)
	if err == nil {
		err = b.check(ctx, r, cmd, message.Chat.IsPrivate())
	}
	if err == nil {
		err = r.handler(ctx, cmd)
	}

	metrics.ObserveCommand(kind.String(), outcome(err), time.Since(started))
	if err == nil {
		return
	}

	if !audit.Recorded(err) {
		err = b.journal.Fail(ctx, audit.Ref{UserID: userID, CauseID: cause}, err)
	}
	log.WithError(err).WithFields(log.Fields{
		"cmd":     kind.String(),
		"user_id": userID,
	}).Info("Команда отклонена")
	tg.Reply(b.bot, cmd.ChatID, cmd.MessageID, "❌ "+reasonText(err))
}

// resolveTarget заменяет первый @username в аргументах на Target.
func (b *Bot) resolveTarget(ctx context.Context, cmd *tg.Command) error {
	for i, a := range cmd.Args {
		if !strings.HasPrefix(a, "@") || len(a) == 1 {
			continue
		}
		id, err := b.members.Resolve(ctx, a)
		if err != nil {
			return err
		}
		cmd.Target = id
		cmd.TargetName = a
		cmd.Args = append(cmd.Args[:i:i], cmd.Args[i+1:]...)
		return nil
	}
	return nil
}

func (b *Bot) handlePost(ctx context.Context, message *tgbotapi.Message) {
	started := time.Now()
	userID := message.From.ID

	cause, err := b.journal.Command(ctx, audit.Ref{UserID: userID},
		"User %d posted message %d in the requests chat.", userID, message.MessageID)
	if err == nil {
		text := message.Text
		if text == "" {
			text = message.Caption
		}
		err = b.handlers.Requests.HandlePost(ctx, requests.Post{
			MessageID:     message.MessageID,
			AuthorID:      userID,
			Text:          text,
			HasAttachment: message.Document != nil || len(message.Photo) > 0,
			Cause:         cause,
		})
	}

	metrics.ObserveCommand("post", outcome(err), time.Since(started))
	if err != nil && !audit.Recorded(err) {
		b.journal.Fail(ctx, audit.Ref{UserID: userID, CauseID: cause}, err)
	}
}

func (b *Bot) handleResponse(ctx context.Context, message *tgbotapi.Message) {
	actor := b.members.Actor(ctx, message.From.ID)
	err := b.handlers.Requests.HandleResponse(ctx, message.ReplyToMessage.MessageID, message.MessageID, actor)
	if err != nil && !audit.Recorded(err) {
		b.journal.Fail(ctx, audit.Ref{UserID: actor.UserID}, err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	requestID, side, dismiss, ok := upvotes.ParseCallback(q.Data)
	if !ok || q.From == nil {
		return
	}

	cb := upvotes.Callback{
		QueryID:   q.ID,
		Voter:     q.From.ID,
		RequestID: requestID,
		Side:      side,
		Dismiss:   dismiss,
	}
	if q.Message != nil && q.Message.Chat != nil {
		cb.ChatID = q.Message.Chat.ID
		cb.MessageID = q.Message.MessageID
	}

	started := time.Now()
	var err error
	if !dismiss {
		cb.Cause, err = b.journal.Command(ctx, audit.Ref{UserID: cb.Voter, RequestID: requestID},
			"User %d upvoted the %s on request #%d.", cb.Voter, side, requestID)
	}
	if err == nil {
		err = b.handlers.Upvotes.HandleCallback(ctx, cb)
	}
	metrics.ObserveCommand("vote", outcome(err), time.Since(started))
	if err == nil {
		return
	}

	if !audit.Recorded(err) {
		err = b.journal.Fail(ctx, audit.Ref{UserID: cb.Voter, CauseID: cb.Cause}, err)
	}
	tg.DM(b.bot, cb.Voter, "❌ "+reasonText(err))
}

// commandSummary — текст COMMAND-записи. Аргументы login не пишутся.
func commandSummary(userID int64, kind CommandKind, args []string) string {
	s := fmt.Sprintf("User %d used /%s", userID, kind)
	if kind != CmdLogin && len(args) > 0 {
		s += " " + strings.Join(args, " ")
	}
	return common.Truncate(s, 500) + "."
}

func reasonText(err error) string {
	if reason := common.ReasonOf(err); reason != "" {
		return reason
	}
	return genericFailure
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return common.KindOf(err).String()
}
