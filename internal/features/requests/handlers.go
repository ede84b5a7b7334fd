// Package requests — handlers.go: приём постов в чате заявок, команды
// reserve / release / cancel / complete (ответом на пост заявки),
// модерация ответов под заявкой, status и checkuser.
package requests

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/config"
	"serotonyl.ru/critics-guild/internal/features/audit"
	"serotonyl.ru/critics-guild/internal/features/ledger"
	"serotonyl.ru/critics-guild/internal/features/policy"
	"serotonyl.ru/critics-guild/internal/features/upvotes"
	"serotonyl.ru/critics-guild/internal/tg"
)

// Directory превращает user id в имя для текстов бота.
type Directory interface {
	DisplayName(ctx context.Context, userID int64) string
}

// Handler обрабатывает события чата заявок.
type Handler struct {
	service *Service
	ledger  *ledger.Service
	journal *audit.Service
	names   Directory
	bot     tg.Sender
	cfg     *config.Config
}

// NewHandler создаёт обработчик заявок.
func NewHandler(service *Service, ledger *ledger.Service, journal *audit.Service, names Directory, bot tg.Sender, cfg *config.Config) *Handler {
	return &Handler{
		service: service,
		ledger:  ledger,
		journal: journal,
		names:   names,
		bot:     bot,
		cfg:     cfg,
	}
}

// Post — новое сообщение верхнего уровня в чате заявок.
type Post struct {
	MessageID     int
	AuthorID      int64
	Text          string
	HasAttachment bool
	Cause         int64
}

// ParseTags находит в тексте ровно один тег списка и ровно один тег типа.
// Прочие хэштеги не считаются.
func ParseTags(text string, cfg *config.Config) (common.Tier, Type, error) {
	lists := map[string]common.Tier{
		strings.ToLower(cfg.OpenTag):    common.TierOpen,
		strings.ToLower(cfg.CriticTag):  common.TierCritic,
		strings.ToLower(cfg.TrustedTag): common.TierTrustedCritic,
	}

	var (
		tiers []common.Tier
		types []Type
	)
	for _, word := range strings.Fields(text) {
		if !strings.HasPrefix(word, "#") {
			continue
		}
		tag := strings.ToLower(strings.TrimFunc(word[1:], func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		}))
		if tier, ok := lists[tag]; ok {
			tiers = append(tiers, tier)
			continue
		}
		if t, ok := ParseType(tag); ok {
			types = append(types, t)
		}
	}

	if len(tiers) != 1 || len(types) != 1 {
		return 0, 0, common.ErrWrongTagCount
	}
	return tiers[0], types[0], nil
}

// HandlePost регистрирует заявку. При отказе пост удаляется, а автор
// получает причину в DM.
func (h *Handler) HandlePost(ctx context.Context, p Post) error {
	tier, typ, err := ParseTags(p.Text, h.cfg)
	if err == nil {
		var out *Outcome
		out, err = h.service.Submit(ctx, CreateInput{
			ThreadID: int64(p.MessageID),
			AuthorID: p.AuthorID,
			Tier:     tier,
			Type:     typ,
			Cause:    p.Cause,
		}, Limits{MaxActive: h.cfg.MaxRequests, MaxPenalties: h.cfg.MaxPenalties})
		if err == nil {
			h.announce(ctx, p, out)
			return nil
		}
	}

	tg.Delete(h.bot, h.cfg.RequestsChatID, p.MessageID)
	reason := common.ReasonOf(err)
	if reason == "" {
		reason = "something went wrong on our side, staff has been notified"
	}
	tg.DM(h.bot, p.AuthorID, "Your request was deleted: "+reason+".")
	return err
}

func (h *Handler) announce(ctx context.Context, p Post, out *Outcome) {
	r := out.Request
	author := h.names.DisplayName(ctx, r.AuthorID)

	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ The #%s request has been registered in the %s.", r.Type.Tag(), r.Tier.Title())
	if out.Price.Cost > 0 {
		fmt.Fprintf(&sb, " %s consumed %s.", author, common.FormatTokens(out.Price.Cost))
	}
	fmt.Fprintf(&sb, " %s now has %d/%d active requests.\n\n", author, out.Active, h.cfg.MaxRequests)

	switch r.Tier {
	case common.TierOpen:
		sb.WriteString("Anyone may respond to requests in this list.")
	case common.TierCritic:
		fmt.Fprintf(&sb, "Only critics may respond to requests in this list. Critics interested in responding should reply to this post with /reserve. Responding to this request will reward %s.",
			common.FormatTokens(out.Price.Reward))
	case common.TierTrustedCritic:
		fmt.Fprintf(&sb, "Only trusted critics may respond to requests in this list. Trusted critics interested in responding should reply to this post with /reserve. Responding to this request will reward %s.",
			common.FormatTokens(out.Price.Reward))
	}
	fmt.Fprintf(&sb, "\n\n❌ %s may cancel the request while nobody has reserved it by replying /cancel.", author)
	if !p.HasAttachment {
		sb.WriteString("\n\n⚠️ No attachment was detected. If this is a mistake, please attach your map file now. Ignore if an attachment isn't necessary.")
	}
	h.toThread(ctx, int64(p.MessageID), sb.String())
}

// HandleResponse модерирует обычный ответ внутри треда заявки. replyTo —
// сообщение, на которое ответили: сам пост, пост бота или чужой ответ
// в треде. Ответ постороннего без нужной роли удаляется, автор ответа
// получает DM. Принятый ответ привязывается к треду.
func (h *Handler) HandleResponse(ctx context.Context, replyTo, messageID int, actor policy.Actor) error {
	r, err := h.service.Resolve(ctx, int64(replyTo))
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return nil
		}
		return err
	}
	threadID := r.ThreadID

	if err := policy.RequireRespond(r.Tier, actor, r.AuthorID); err != nil {
		tg.Delete(h.bot, h.cfg.RequestsChatID, messageID)
		tg.DM(h.bot, actor.UserID, fmt.Sprintf("Your message under request #%d was deleted: %s.", threadID, common.ReasonOf(err)))
		_, logErr := h.journal.System(ctx, audit.Ref{UserID: actor.UserID, RequestID: threadID},
			"User %d tried to post under request %d but the message was deleted: %s", actor.UserID, threadID, common.ReasonOf(err))
		return logErr
	}
	return h.service.Link(ctx, int64(messageID), threadID)
}

// threadOf находит заявку, в треде которой отправлена команда. Ответ на
// ответ или на пост бота тоже ведёт к корневой заявке.
func (h *Handler) threadOf(ctx context.Context, cmd *tg.Command) (int64, error) {
	if cmd.ReplyTo == 0 {
		return 0, common.ErrNotReply
	}
	r, err := h.service.Resolve(ctx, int64(cmd.ReplyTo))
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return int64(cmd.ReplyTo), nil
		}
		return 0, err
	}
	return r.ThreadID, nil
}

// toThread пишет в тред заявки и привязывает пост бота к треду.
func (h *Handler) toThread(ctx context.Context, threadID int64, text string) {
	id := tg.Reply(h.bot, h.cfg.RequestsChatID, int(threadID), text)
	if err := h.service.Link(ctx, int64(id), threadID); err != nil {
		log.WithError(err).WithField("thread_id", threadID).Warn("Не удалось привязать пост бота к треду")
	}
}

// HandleReserve — reserve (ответом на пост заявки).
func (h *Handler) HandleReserve(ctx context.Context, cmd *tg.Command) error {
	threadID, err := h.threadOf(ctx, cmd)
	if err != nil {
		return err
	}
	if _, err := h.service.Reserve(ctx, threadID, cmd.Actor, cmd.Cause); err != nil {
		return err
	}
	h.toThread(ctx, threadID, fmt.Sprintf("%s has reserved this request, and should respond to it within the next week. Reply /release if you will not be able to.",
		h.names.DisplayName(ctx, cmd.Actor.UserID)))
	return nil
}

// HandleRelease — release (ответом на пост заявки).
func (h *Handler) HandleRelease(ctx context.Context, cmd *tg.Command) error {
	threadID, err := h.threadOf(ctx, cmd)
	if err != nil {
		return err
	}
	out, err := h.service.Release(ctx, threadID, cmd.Actor, cmd.Cause)
	if err != nil {
		return err
	}
	h.toThread(ctx, threadID, fmt.Sprintf("%s has been released from this request. It may now be reserved by another critic, or cancelled.",
		h.names.DisplayName(ctx, out.Critic)))
	return nil
}

// HandleCancel — cancel [reason] (ответом на пост заявки).
func (h *Handler) HandleCancel(ctx context.Context, cmd *tg.Command) error {
	threadID, err := h.threadOf(ctx, cmd)
	if err != nil {
		return err
	}
	reason := cmd.Rest(0)
	if reason == "" {
		reason = "no reason given"
	}
	out, err := h.service.Cancel(ctx, threadID, cmd.Actor, reason, cmd.Cause)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("❌ %s cancelled this request.", h.names.DisplayName(ctx, cmd.Actor.UserID))
	if out.Price.Cost > 0 {
		text += fmt.Sprintf(" %s were returned to %s.",
			common.FormatTokens(out.Price.Cost), h.names.DisplayName(ctx, out.Request.AuthorID))
	}
	h.toThread(ctx, threadID, text)
	return nil
}

// HandleComplete — complete [return] [star] [@critic] [notes]
// (ответом на пост заявки).
func (h *Handler) HandleComplete(ctx context.Context, cmd *tg.Command) error {
	threadID, err := h.threadOf(ctx, cmd)
	if err != nil {
		return err
	}

	in := CompleteInput{ThreadID: threadID, CriticOverride: cmd.Target, Cause: cmd.Cause}
	var notes []string
	for _, a := range cmd.Args {
		switch strings.ToLower(a) {
		case "return":
			in.ReturnTokensToAuthor = true
		case "star":
			in.AwardStar = true
		default:
			if !strings.HasPrefix(a, "@") {
				notes = append(notes, a)
			}
		}
	}
	in.Notes = strings.Join(notes, " ")

	c, err := h.service.Complete(ctx, in, cmd.Actor)
	if err != nil {
		return err
	}
	h.notifyCompletion(ctx, cmd, c)
	return nil
}

func (h *Handler) notifyCompletion(ctx context.Context, cmd *tg.Command, c *Completion) {
	r := c.Request
	author := h.names.DisplayName(ctx, r.AuthorID)
	critic := h.names.DisplayName(ctx, r.CriticID)

	thread := fmt.Sprintf("✅ %s marked this request as complete.", h.names.DisplayName(ctx, cmd.Actor.UserID))
	if r.Tier.Paid() {
		thread += fmt.Sprintf(" %s were rewarded to %s.", common.FormatTokens(c.Reward), critic)
		if c.Author.Tokens > 0 {
			thread += fmt.Sprintf(" %s was returned to %s for good engagement.", common.FormatTokens(c.Author.Tokens), author)
		}
	}
	if h.cfg.FeatureUpvotesEnabled {
		thread += " Consider upvoting anonymously using the DM that was sent to both of you."
	}
	h.toThread(ctx, r.ThreadID, thread)

	authorText := fmt.Sprintf("A trusted critic marked your request #%d as completed by %s. If this is an error, please tell a member of staff.", r.ThreadID, critic)
	if r.Tier.Paid() {
		if c.Author.Tokens > 0 {
			authorText += fmt.Sprintf(" You received %s back for good engagement with the feedback.", common.FormatTokens(c.Author.Tokens))
		} else {
			authorText += " In the future, engage more with the feedback you were given and you may get a token back."
		}
	}
	criticText := fmt.Sprintf("A trusted critic marked the request #%d by %s that you responded to as completed. If this is an error, please tell a member of staff.", r.ThreadID, author)
	if c.Critic.Tokens > 0 {
		criticText += fmt.Sprintf(" You received %s as reward.", common.FormatTokens(c.Critic.Tokens))
	}
	if c.Critic.Star {
		criticText += fmt.Sprintf(" You were also awarded %s for good feedback!", common.FormatStars(1))
	}

	if !h.cfg.FeatureUpvotesEnabled || r.AuthorID == r.CriticID {
		tg.DM(h.bot, r.AuthorID, authorText)
		tg.DM(h.bot, r.CriticID, criticText)
		return
	}
	h.dmWithVote(r.AuthorID, authorText+fmt.Sprintf(" Would you recommend %s as a critic?", critic),
		upvotes.Keyboard(r.ThreadID, upvotes.SideCritic))
	h.dmWithVote(r.CriticID, criticText+fmt.Sprintf(" Would you recommend %s as a good mapper to interact with?", author),
		upvotes.Keyboard(r.ThreadID, upvotes.SideMapper))
}

func (h *Handler) dmWithVote(userID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(userID, text)
	msg.ReplyMarkup = kb
	msg.DisableWebPagePreview = true
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Не удалось отправить DM с голосованием")
	}
}

// HandleStatus — status: свои счётчики и активные заявки.
func (h *Handler) HandleStatus(ctx context.Context, cmd *tg.Command) error {
	text, err := h.describe(ctx, cmd.Actor.UserID, false)
	if err != nil {
		return err
	}
	tg.Reply(h.bot, cmd.ChatID, cmd.MessageID, text)
	return nil
}

// HandleCheckUser — checkuser @user: все счётчики и активные заявки.
func (h *Handler) HandleCheckUser(ctx context.Context, cmd *tg.Command) error {
	target, err := cmd.RequireTarget()
	if err != nil {
		return err
	}
	text, err := h.describe(ctx, target, true)
	if err != nil {
		return err
	}
	tg.Reply(h.bot, cmd.ChatID, cmd.MessageID, text)
	return nil
}

func (h *Handler) describe(ctx context.Context, userID int64, full bool) (string, error) {
	u, err := h.ledger.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	active, err := h.service.ListActive(ctx, userID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "👤 %s\n", h.names.DisplayName(ctx, userID))
	fmt.Fprintf(&sb, "\n%s", common.FormatTokens(u.Tokens))
	if !u.ClaimedTokens {
		sb.WriteString(" (monthly tokens not claimed yet)")
	}
	fmt.Fprintf(&sb, "\n%s (all time: %d)", common.FormatStars(u.Stars), u.HistoricStars)
	fmt.Fprintf(&sb, "\n%s as mapper (all time: %d)", common.FormatUpvotes(u.MapperUpvotes), u.HistoricMapperUpvotes)
	fmt.Fprintf(&sb, "\n%s as critic (all time: %d)", common.FormatUpvotes(u.CriticUpvotes), u.HistoricCriticUpvotes)
	fmt.Fprintf(&sb, "\n%s", common.FormatPenalties(u.Penalties))
	if full {
		fmt.Fprintf(&sb, "\nStakes: %d", u.Stakes)
		fmt.Fprintf(&sb, "\nCompleted requests: %d as mapper, %d as critic", u.CompletedMapper, u.CompletedCritic)
	}

	var authored, reserved []string
	for _, r := range active {
		line := fmt.Sprintf("#%d %s in the %s (%s)", r.ThreadID, r.Type, r.Tier.Title(), r.State)
		if r.AuthorID == userID {
			authored = append(authored, line)
		}
		if r.CriticID == userID {
			reserved = append(reserved, line)
		}
	}
	fmt.Fprintf(&sb, "\n\nActive requests: %d/%d", len(authored), h.cfg.MaxRequests)
	for _, l := range authored {
		sb.WriteString("\n  " + l)
	}
	if len(reserved) > 0 {
		sb.WriteString("\nReserved as critic:")
		for _, l := range reserved {
			sb.WriteString("\n  " + l)
		}
	}
	return sb.String(), nil
}
