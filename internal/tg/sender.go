// Package tg — тонкая обёртка над отправкой сообщений в Telegram.
// Хендлеры фич зависят от интерфейса Sender, а не от *tgbotapi.BotAPI,
// чтобы их можно было проверять без сети.
package tg

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// Sender — часть *tgbotapi.BotAPI, которой пользуются хендлеры.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// SendText отправляет текст в чат и логирует ошибку.
func SendText(s Sender, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := s.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// Reply отвечает на конкретное сообщение и возвращает id ответа
// (0, если отправить не удалось).
func Reply(s Sender, chatID int64, replyTo int, text string) int {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	msg.DisableWebPagePreview = true
	sent, err := s.Send(msg)
	if err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки ответа")
		return 0
	}
	return sent.MessageID
}

// DM пишет пользователю в личку. Возвращает false, если бот не может
// написать (пользователь не начинал диалог).
func DM(s Sender, userID int64, text string) bool {
	msg := tgbotapi.NewMessage(userID, text)
	msg.DisableWebPagePreview = true
	if _, err := s.Send(msg); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Не удалось отправить DM")
		return false
	}
	return true
}

// Delete удаляет сообщение.
func Delete(s Sender, chatID int64, messageID int) {
	if _, err := s.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"chat_id":    chatID,
			"message_id": messageID,
		}).Warn("Не удалось удалить сообщение")
	}
}
