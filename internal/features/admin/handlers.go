// Package admin — handlers.go: login и logout в личных сообщениях.
package admin

import (
	"context"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/tg"
)

// Handler обрабатывает команды входа.
type Handler struct {
	service *Service
	bot     tg.Sender
}

// NewHandler создаёт обработчик.
func NewHandler(service *Service, bot tg.Sender) *Handler {
	return &Handler{service: service, bot: bot}
}

// HandleLogin — login <password>. Сообщение с паролем удаляется
// в любом случае.
func (h *Handler) HandleLogin(ctx context.Context, cmd *tg.Command) error {
	tg.Delete(h.bot, cmd.ChatID, cmd.MessageID)

	password := cmd.Rest(0)
	if password == "" {
		return common.Validation("usage: login <password>")
	}
	if err := h.service.Login(ctx, cmd.Actor.UserID, password); err != nil {
		return err
	}
	tg.SendText(h.bot, cmd.ChatID, "🔓 Admin session opened for 24 hours. Use logout to close it.")
	return nil
}

// HandleLogout — logout.
func (h *Handler) HandleLogout(ctx context.Context, cmd *tg.Command) error {
	if err := h.service.Logout(ctx, cmd.Actor.UserID); err != nil {
		return err
	}
	tg.Reply(h.bot, cmd.ChatID, cmd.MessageID, "🔒 Admin session closed.")
	return nil
}
