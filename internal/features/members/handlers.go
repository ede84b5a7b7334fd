// Package members — handlers.go: вступление в чат, setrole и roles.
package members

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/tg"
)

// Handler обрабатывает события участников.
type Handler struct {
	service *Service
	bot     tg.Sender
}

// NewHandler создаёт новый обработчик событий участников.
func NewHandler(service *Service, bot tg.Sender) *Handler {
	return &Handler{service: service, bot: bot}
}

// HandleNewChatMembers регистрирует вступивших пользователей.
func (h *Handler) HandleNewChatMembers(ctx context.Context, newMembers []tgbotapi.User) {
	for _, user := range newMembers {
		if user.IsBot {
			continue
		}
		err := h.service.Touch(ctx, Profile{
			UserID:    user.ID,
			Username:  user.UserName,
			FirstName: user.FirstName,
			LastName:  user.LastName,
		})
		if err != nil {
			log.WithError(err).WithField("user_id", user.ID).Error("Ошибка регистрации нового участника")
		}
	}
}

// HandleSetRole — setrole @user critic|trusted_critic|none.
func (h *Handler) HandleSetRole(ctx context.Context, cmd *tg.Command) error {
	target, err := cmd.RequireTarget()
	if err != nil {
		return err
	}
	var role string
	for _, a := range cmd.Args {
		if !strings.HasPrefix(a, "@") {
			role = a
			break
		}
	}
	if role == "" {
		return common.ErrRoleUnknown
	}

	from, to, err := h.service.SetRole(ctx, target, role, cmd.Cause)
	if err != nil {
		return err
	}
	tg.Reply(h.bot, cmd.ChatID, cmd.MessageID,
		fmt.Sprintf("✅ %s: %s → %s", h.service.DisplayName(ctx, target), from, to))
	return nil
}

// HandleRoles — roles: список критиков и доверенных критиков.
func (h *Handler) HandleRoles(ctx context.Context, cmd *tg.Command) error {
	staff, err := h.service.Staff(ctx)
	if err != nil {
		return err
	}
	if len(staff) == 0 {
		tg.Reply(h.bot, cmd.ChatID, cmd.MessageID, "Nobody has a role yet.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("Roles:")
	for _, m := range staff {
		fmt.Fprintf(&sb, "\n%s - %s", m.DisplayName(), m.RoleName())
	}
	tg.Reply(h.bot, cmd.ChatID, cmd.MessageID, sb.String())
	return nil
}
