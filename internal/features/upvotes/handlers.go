// Package upvotes — handlers.go: кнопки Upvote / Dismiss в DM после
// выполнения заявки.
package upvotes

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/tg"
)

const callbackPrefix = "vote"

// Callback — разобранное нажатие кнопки.
type Callback struct {
	QueryID   string
	ChatID    int64
	MessageID int
	Voter     int64
	RequestID int64
	Side      Side
	Dismiss   bool
	Cause     int64
}

// Keyboard — кнопки голоса за side по заявке requestID.
func Keyboard(requestID int64, side Side) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👍 Upvote", fmt.Sprintf("%s|%s|%d", callbackPrefix, side, requestID)),
			tgbotapi.NewInlineKeyboardButtonData("Dismiss", callbackPrefix+"|dismiss"),
		),
	)
}

// ParseCallback разбирает data кнопки. ok=false — кнопка не наша.
func ParseCallback(data string) (requestID int64, side Side, dismiss, ok bool) {
	parts := strings.Split(data, "|")
	if len(parts) < 2 || parts[0] != callbackPrefix {
		return 0, "", false, false
	}
	if parts[1] == "dismiss" {
		return 0, "", true, true
	}
	if len(parts) != 3 {
		return 0, "", false, false
	}
	side = Side(parts[1])
	if side != SideCritic && side != SideMapper {
		return 0, "", false, false
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, "", false, false
	}
	return id, side, false, true
}

// Handler обрабатывает нажатия кнопок голосования.
type Handler struct {
	service *Service
	bot     tg.Sender
}

// NewHandler создаёт обработчик голосования.
func NewHandler(service *Service, bot tg.Sender) *Handler {
	return &Handler{service: service, bot: bot}
}

// HandleCallback засчитывает голос и убирает кнопки. Кнопки убираются
// и при отказе: повторно голосовать всё равно нельзя.
func (h *Handler) HandleCallback(ctx context.Context, cb Callback) error {
	h.clearButtons(cb)
	if cb.Dismiss {
		h.answer(cb, "")
		return nil
	}

	if _, err := h.service.Cast(ctx, cb.RequestID, cb.Voter, cb.Side, cb.Cause); err != nil {
		h.answer(cb, "")
		return err
	}
	h.answer(cb, "Upvoted!")
	return nil
}

func (h *Handler) clearButtons(cb Callback) {
	edit := tgbotapi.NewEditMessageReplyMarkup(cb.ChatID, cb.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := h.bot.Request(edit); err != nil {
		log.WithError(err).Warn("Не удалось убрать кнопки голосования")
	}
}

func (h *Handler) answer(cb Callback, text string) {
	if cb.QueryID == "" {
		return
	}
	if _, err := h.bot.Request(tgbotapi.NewCallback(cb.QueryID, text)); err != nil {
		log.WithError(err).Warn("Не удалось ответить на callback")
	}
}
