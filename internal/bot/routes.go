package bot

import (
	"context"
	"strings"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/features/ledger"
	"serotonyl.ru/critics-guild/internal/features/policy"
	"serotonyl.ru/critics-guild/internal/tg"
)

// gate — кто может вызвать команду.
type gate int

const (
	gateNone gate = iota
	gateCritic
	gateTrusted
	gateAdmin
)

// place — где команда принимается.
type place int

const (
	anywhere place = iota
	// inRequestsChat — ответом на заявку в чате заявок.
	inRequestsChat
	// privateOnly — только в личке с ботом.
	privateOnly
)

type route struct {
	kind    CommandKind
	gate    gate
	where   place
	handler tg.Handler
}

func (b *Bot) buildRoutes() map[CommandKind]route {
	h := b.handlers
	table := []route{
		{CmdHelp, gateNone, anywhere, b.handleHelp},
		{CmdPing, gateAdmin, anywhere, b.handlePing},

		{CmdClaimTokens, gateNone, anywhere, h.Ledger.HandleClaim},
		{CmdGiftTokens, gateNone, anywhere, h.Ledger.HandleGift},
		{CmdCheckTokens, gateNone, anywhere, h.Ledger.HandleCheckTokens},
		{CmdCheckPenalties, gateNone, anywhere, h.Ledger.HandleCheckPenalties},
		{CmdStatus, gateNone, anywhere, h.Requests.HandleStatus},

		{CmdReserve, gateCritic, inRequestsChat, h.Requests.HandleReserve},
		{CmdRelease, gateCritic, inRequestsChat, h.Requests.HandleRelease},
		{CmdCancel, gateNone, inRequestsChat, h.Requests.HandleCancel},
		{CmdComplete, gateTrusted, inRequestsChat, h.Requests.HandleComplete},

		{CmdRewardTokens, gateTrusted, anywhere, h.Ledger.HandleRewardTokens},
		{CmdRewardStar, gateTrusted, anywhere, h.Ledger.HandleRewardStar},

		{CmdCheckUser, gateAdmin, anywhere, h.Requests.HandleCheckUser},
		{CmdUserLog, gateAdmin, anywhere, h.Audit.HandleUserLog},
		{CmdRequestLog, gateAdmin, anywhere, h.Audit.HandleRequestLog},
		{CmdSystemLog, gateAdmin, anywhere, h.Audit.HandleSystemLog},
		{CmdSetTokens, gateAdmin, anywhere, h.Ledger.SetHandler(ledger.CounterTokens)},
		{CmdSetStars, gateAdmin, anywhere, h.Ledger.SetHandler(ledger.CounterStars)},
		{CmdSetMapperUpvotes, gateAdmin, anywhere, h.Ledger.SetHandler(ledger.CounterMapperUpvotes)},
		{CmdSetCriticUpvotes, gateAdmin, anywhere, h.Ledger.SetHandler(ledger.CounterCriticUpvotes)},
		{CmdSetPenalties, gateAdmin, anywhere, h.Ledger.SetHandler(ledger.CounterPenalties)},
		{CmdLeaderboard, gateAdmin, anywhere, h.Ledger.HandleLeaderboard},
		{CmdResetLeaderboards, gateAdmin, anywhere, h.Ledger.HandleResetLeaderboards},
		{CmdResetClaims, gateAdmin, anywhere, h.Ledger.HandleResetClaims},
		{CmdSetRole, gateAdmin, anywhere, h.Members.HandleSetRole},
		{CmdRoles, gateAdmin, anywhere, h.Members.HandleRoles},

		{CmdLogin, gateNone, privateOnly, h.Admin.HandleLogin},
		{CmdLogout, gateNone, privateOnly, h.Admin.HandleLogout},
	}

	routes := make(map[CommandKind]route, len(table))
	for _, r := range table {
		routes[r.kind] = r
	}
	return routes
}

// check проверяет место и права. Админ-команды принимаются в лог-чате
// или в личке при открытой сессии.
func (b *Bot) check(ctx context.Context, r route, cmd *tg.Command, private bool) error {
	switch r.where {
	case inRequestsChat:
		if cmd.ChatID != b.cfg.RequestsChatID || cmd.ReplyTo == 0 {
			return common.ErrNotReply
		}
	case privateOnly:
		if !private {
			return common.Validation("this command only works in a private chat with the bot")
		}
		// login/logout — только для админов
		return policy.RequireAdmin(cmd.Actor)
	}

	switch r.gate {
	case gateCritic:
		return policy.RequireCritic(cmd.Actor)
	case gateTrusted:
		return policy.RequireTrustedCritic(cmd.Actor)
	case gateAdmin:
		if err := policy.RequireAdmin(cmd.Actor); err != nil {
			return err
		}
		switch {
		case cmd.ChatID == b.cfg.LogChatID:
			return nil
		case private && b.sessions.HasActiveSession(ctx, cmd.Actor.UserID):
			return nil
		case private:
			return common.Authorization("log in first with /login <password>")
		}
		return common.Authorization("admin commands are only accepted in the log chat or a private chat")
	}
	return nil
}

const helpText = `Critics Guild bot.

Post a request in the requests chat with one list tag (#open, #critic, #trusted) and one type tag (#previewer, #timing, ...).

Commands:
/claimtokens - claim your monthly tokens
/gifttokens N @user - gift tokens
/checktokens [@user], /checkpenalties [@user]
/status - your counters and active requests

Reply to a request with:
/reserve, /release - critics
/cancel [reason] - author or trusted critic
/complete [return] [star] [@critic] [notes] - trusted critics

Trusted critics: /rewardtokens N @user [reason], /rewardstar @user [reason]`

func (b *Bot) handleHelp(_ context.Context, cmd *tg.Command) error {
	text := helpText
	if policy.IsAdmin(cmd.Actor.Roles) {
		text += "\n\nAdmins: /ping, /checkuser, /userlog, /requestlog, /systemlog, /set{tokens,stars,mapperupvotes,criticupvotes,penalties}, /leaderboard, /resetleaderboards, /resetclaims, /setrole, /roles, /login, /logout"
	}
	tg.Reply(b.bot, cmd.ChatID, cmd.MessageID, text)
	return nil
}

func (b *Bot) handlePing(_ context.Context, cmd *tg.Command) error {
	tg.Reply(b.bot, cmd.ChatID, cmd.MessageID, "Pong! Roles: "+strings.ToLower(cmd.Actor.Roles.String()))
	return nil
}
