package tg

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sent — одно перехваченное сообщение.
type Sent struct {
	ChatID  int64
	Text    string
	ReplyTo int
	Markup  interface{}
}

// Recorder — Sender, который ничего не отправляет, а запоминает.
// Используется в тестах хендлеров.
type Recorder struct {
	mu       sync.Mutex
	Messages []Sent
	Deleted  []int
	Requests []tgbotapi.Chattable
	nextID   int
}

func (r *Recorder) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		r.Messages = append(r.Messages, Sent{
			ChatID:  m.ChatID,
			Text:    m.Text,
			ReplyTo: m.ReplyToMessageID,
			Markup:  m.ReplyMarkup,
		})
	} else {
		r.Requests = append(r.Requests, c)
	}
	return tgbotapi.Message{MessageID: r.nextID}, nil
}

func (r *Recorder) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := c.(tgbotapi.DeleteMessageConfig); ok {
		r.Deleted = append(r.Deleted, d.MessageID)
	} else {
		r.Requests = append(r.Requests, c)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// To возвращает тексты, отправленные в chatID.
func (r *Recorder) To(chatID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, m := range r.Messages {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}
