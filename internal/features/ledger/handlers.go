// Package ledger — handlers.go обрабатывает команды:
// claimtokens, gifttokens, checktokens, checkpenalties, rewardtokens,
// rewardstar, set*, leaderboard, resetleaderboards, resetclaims.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/tg"
)

// Directory превращает user id в имя для текстов бота.
type Directory interface {
	DisplayName(ctx context.Context, userID int64) string
}

// Handler обрабатывает команды экономики.
type Handler struct {
	service *Service
	names   Directory
	bot     tg.Sender
}

// NewHandler создаёт обработчик команд экономики.
func NewHandler(service *Service, names Directory, bot tg.Sender) *Handler {
	return &Handler{service: service, names: names, bot: bot}
}

func (h *Handler) reply(cmd *tg.Command, text string) {
	tg.Reply(h.bot, cmd.ChatID, cmd.MessageID, text)
}

// HandleClaim — claimtokens.
func (h *Handler) HandleClaim(ctx context.Context, cmd *tg.Command) error {
	ch, err := h.service.ClaimMonthly(ctx, cmd.Actor.UserID, cmd.Cause)
	if err != nil {
		return err
	}
	h.reply(cmd, fmt.Sprintf("You have claimed your monthly %s, and now have %s in total.",
		common.FormatTokens(h.service.MonthlyTokens()), common.FormatTokens(ch.Next)))
	return nil
}

// HandleGift — gifttokens N @user (или ответом на сообщение получателя).
func (h *Handler) HandleGift(ctx context.Context, cmd *tg.Command) error {
	to, err := cmd.RequireTarget()
	if err != nil {
		return err
	}
	amount, err := cmd.Int(0)
	if err != nil {
		return err
	}

	sent, _, err := h.service.Gift(ctx, cmd.Actor.UserID, to, amount, cmd.Cause)
	if err != nil {
		return err
	}
	h.reply(cmd, fmt.Sprintf("You gifted %s to %s, and now have %s left. Very kind of you!",
		common.FormatTokens(amount), h.names.DisplayName(ctx, to), common.FormatTokens(sent.Next)))
	return nil
}

// HandleCheckTokens — checktokens [@user].
func (h *Handler) HandleCheckTokens(ctx context.Context, cmd *tg.Command) error {
	subject := cmd.Subject()
	u, err := h.service.GetUser(ctx, subject)
	if err != nil {
		return err
	}

	who := "You have"
	if subject != cmd.Actor.UserID {
		who = h.names.DisplayName(ctx, subject) + " has"
	}
	text := fmt.Sprintf("%s %s.", who, common.FormatTokens(u.Tokens))
	if subject == cmd.Actor.UserID && !u.ClaimedTokens {
		text = fmt.Sprintf("You have %s, but you can claim your monthly %s with /claimtokens.",
			common.FormatTokens(u.Tokens), common.FormatTokens(h.service.MonthlyTokens()))
	}
	h.reply(cmd, text)
	return nil
}

// HandleCheckPenalties — checkpenalties [@user].
func (h *Handler) HandleCheckPenalties(ctx context.Context, cmd *tg.Command) error {
	subject := cmd.Subject()
	u, err := h.service.GetUser(ctx, subject)
	if err != nil {
		return err
	}

	who := "You have"
	if subject != cmd.Actor.UserID {
		who = h.names.DisplayName(ctx, subject) + " has"
	}
	h.reply(cmd, fmt.Sprintf("%s %s.", who, common.FormatPenalties(u.Penalties)))
	return nil
}

// HandleRewardTokens — rewardtokens N @user [reason].
func (h *Handler) HandleRewardTokens(ctx context.Context, cmd *tg.Command) error {
	target, err := cmd.RequireTarget()
	if err != nil {
		return err
	}
	amount, err := cmd.Int(0)
	if err != nil {
		return err
	}

	ch, err := h.service.RewardTokens(ctx, target, amount, cmd.Cause)
	if err != nil {
		return err
	}
	h.reply(cmd, rewardText(h.names.DisplayName(ctx, target), common.FormatTokens(amount), ch, cmd.Rest(1)))
	return nil
}

// HandleRewardStar — rewardstar @user [reason].
func (h *Handler) HandleRewardStar(ctx context.Context, cmd *tg.Command) error {
	target, err := cmd.RequireTarget()
	if err != nil {
		return err
	}

	ch, err := h.service.RewardStar(ctx, target, cmd.Cause)
	if err != nil {
		return err
	}
	h.reply(cmd, rewardText(h.names.DisplayName(ctx, target), common.FormatStars(1), ch, cmd.Rest(0)))
	return nil
}

func rewardText(who, what string, ch Change, reason string) string {
	text := fmt.Sprintf("%s was rewarded %s and now has %s.", who, what, ch.Counter.Format(ch.Next))
	if reason != "" {
		text += "\nReason: " + reason
	}
	return text
}

// SetHandler — set<counter> @user N.
func (h *Handler) SetHandler(c Counter) tg.Handler {
	return func(ctx context.Context, cmd *tg.Command) error {
		target, err := cmd.RequireTarget()
		if err != nil {
			return err
		}
		value, err := cmd.Int(0)
		if err != nil {
			return err
		}

		ch, err := h.service.Set(ctx, target, c, value, cmd.Cause)
		if err != nil {
			return err
		}
		h.reply(cmd, fmt.Sprintf("%s went from %s to %s.",
			h.names.DisplayName(ctx, target), c.Format(ch.Prev), c.Format(ch.Next)))
		return nil
	}
}

// HandleLeaderboard — leaderboard <board> [N] [historic].
func (h *Handler) HandleLeaderboard(ctx context.Context, cmd *tg.Command) error {
	if len(cmd.Args) == 0 {
		return common.Validation("choose a leaderboard: %s", boardNames())
	}
	c, ok := ParseBoard(strings.ToLower(cmd.Args[0]))
	if !ok {
		return common.Validation("unknown leaderboard %q, choose one of: %s", cmd.Args[0], boardNames())
	}
	limit := DefaultBoardSize
	if n, err := cmd.Int(1); err == nil {
		limit = int(n)
	}
	historic := cmd.Flag("historic")

	standings, err := h.service.Leaderboard(ctx, c, historic, limit)
	if err != nil {
		return err
	}

	title := fmt.Sprintf("🏆 %s leaderboard", c)
	if historic {
		title += " (all time)"
	}
	if len(standings) == 0 {
		h.reply(cmd, title+"\nNobody is on it yet.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString(title + "\n")
	for i, st := range standings {
		fmt.Fprintf(&sb, "\n%d. %s: %s", i+1, h.names.DisplayName(ctx, st.UserID), c.Format(st.Value))
	}
	h.reply(cmd, sb.String())
	return nil
}

func boardNames() string {
	names := make([]string, len(Boards))
	for i, b := range Boards {
		names[i] = b.Name
	}
	return strings.Join(names, ", ")
}

// HandleResetLeaderboards — resetleaderboards.
func (h *Handler) HandleResetLeaderboards(ctx context.Context, cmd *tg.Command) error {
	n, err := h.service.ResetLeaderboards(ctx, cmd.Cause)
	if err != nil {
		return err
	}
	h.reply(cmd, fmt.Sprintf("The star and upvote leaderboards have been reset (%d %s affected).",
		n, common.Pluralize(int64(n), "user", "users")))
	return nil
}

// HandleResetClaims — resetclaims.
func (h *Handler) HandleResetClaims(ctx context.Context, cmd *tg.Command) error {
	n, err := h.service.ResetMonthlyClaims(ctx, cmd.Cause)
	if err != nil {
		return err
	}
	h.reply(cmd, fmt.Sprintf("The monthly token claims have been reset (%d %s).",
		n, common.Pluralize(n, "user", "users")))
	return nil
}
