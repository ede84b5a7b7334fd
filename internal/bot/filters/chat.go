// Package filters — какие сообщения бот вообще обрабатывает.
package filters

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/features/members"
	"serotonyl.ru/critics-guild/internal/tg"
)

// Members — то, что фильтру нужно от сервиса участников.
type Members interface {
	Known(ctx context.Context, userID int64) (bool, error)
	Touch(ctx context.Context, p members.Profile) error
}

// ChatMembers — проверка членства через Telegram API.
type ChatMembers interface {
	tg.Sender
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// ChatFilter пропускает чат заявок, лог-чат и личку участников чата заявок.
type ChatFilter struct {
	requestsChatID int64
	logChatID      int64
	members        Members
	bot            ChatMembers
}

func NewChatFilter(requestsChatID, logChatID int64, members Members, bot ChatMembers) *ChatFilter {
	return &ChatFilter{
		requestsChatID: requestsChatID,
		logChatID:      logChatID,
		members:        members,
		bot:            bot,
	}
}

func (f *ChatFilter) CheckAccess(ctx context.Context, message *tgbotapi.Message) bool {
	if message == nil || message.Chat == nil {
		log.WithField("component", "ChatFilter").Warn("nil message/chat")
		return false
	}
	if message.From == nil {
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Warn("nil message.From (service/channel message?)")
		return false
	}

	chatID := message.Chat.ID
	userID := message.From.ID

	logger := log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   chatID,
		"chat_type": message.Chat.Type,
		"user_id":   userID,
	})

	// 1) Рабочие чаты
	if chatID == f.requestsChatID || chatID == f.logChatID {
		return true
	}

	// 2) Личка: сначала быстро по БД
	if message.Chat.IsPrivate() {
		known, err := f.members.Known(ctx, userID)
		if err != nil {
			logger.WithError(err).Error("member check failed (db)")
			return false
		}
		if known {
			logger.Debug("allow: private (db member)")
			return true
		}

		// 2.1) БД не знает пользователя: проверяем членство через Telegram API
		cm, err := f.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
				ChatID: f.requestsChatID,
				UserID: userID,
			},
		})
		if err != nil {
			logger.WithError(err).Error("member check failed (telegram GetChatMember)")
			return false
		}

		switch cm.Status {
		case "creator", "administrator", "member", "restricted":
			if err := f.members.Touch(ctx, members.Profile{
				UserID:    userID,
				Username:  message.From.UserName,
				FirstName: message.From.FirstName,
				LastName:  message.From.LastName,
			}); err != nil {
				logger.WithError(err).Warn("failed to backfill member to DB (allowing anyway)")
			}
			logger.WithField("tg_status", cm.Status).Info("allow: private (telegram member, backfilled)")
			return true

		default:
			logger.WithField("tg_status", cm.Status).Info("deny: private (not a chat member)")
			tg.SendText(f.bot, chatID, "❌ This bot only works for members of the guild's requests chat.")
			return false
		}
	}

	// 3) Остальные чаты игнорируем
	logger.Debug("deny: unknown chat")
	return false
}
