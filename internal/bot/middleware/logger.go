// Package middleware содержит промежуточные обработчики для логирования,
// восстановления после паники и rate-limiting.
package middleware

import (
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/common"
)

// LogMessage логирует входящее сообщение.
// Записывает: user_id, chat_id, username, текст или подпись (первые 50 символов).
func LogMessage(message *tgbotapi.Message) {
	if message == nil {
		return
	}

	text := message.Text
	if text == "" {
		text = message.Caption
	}
	// пароль из login в лог не попадает
	if strings.HasPrefix(strings.ToLower(strings.TrimLeft(text, "/!.")), "login") {
		text = "login ***"
	}

	fields := log.Fields{
		"chat_id":    message.Chat.ID,
		"message_id": message.MessageID,
		"text":       common.Truncate(text, 50),
		"time":       time.Now().Format("15:04:05"),
	}
	if message.From != nil {
		fields["user_id"] = message.From.ID
		fields["username"] = message.From.UserName
	}
	if message.ReplyToMessage != nil {
		fields["reply_to"] = message.ReplyToMessage.MessageID
	}
	log.WithFields(fields).Debug("Входящее сообщение")
}
