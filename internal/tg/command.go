package tg

import (
	"context"
	"strconv"
	"strings"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/features/policy"
)

// Command — разобранная команда, которую диспетчер передаёт хендлеру фичи.
type Command struct {
	ChatID    int64
	MessageID int
	Actor     policy.Actor
	Username  string
	Args      []string

	// Target — пользователь из @username в аргументах (0, если не указан).
	Target     int64
	TargetName string
	// ReplyTo — id сообщения, на которое ответили (0, если это не ответ).
	ReplyTo int
	// ReplyAuthor — автор сообщения, на которое ответили.
	ReplyAuthor int64

	// Cause — COMMAND-запись журнала, причина всего, что сделает команда.
	Cause int64
}

// Handler — типизированный хендлер команды. Ожидаемую ошибку диспетчер
// покажет пользователю как причину отказа.
type Handler func(ctx context.Context, cmd *Command) error

// Int разбирает i-й аргумент как число.
func (c *Command) Int(i int) (int64, error) {
	if i >= len(c.Args) {
		return 0, common.Validation("a number is expected")
	}
	n, err := strconv.ParseInt(c.Args[i], 10, 64)
	if err != nil {
		return 0, common.Validation("%q is not a number", c.Args[i])
	}
	return n, nil
}

// Flag сообщает, есть ли среди аргументов слово name (без учёта регистра).
func (c *Command) Flag(name string) bool {
	for _, a := range c.Args {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// Rest склеивает аргументы начиная с i (причина, заметки).
func (c *Command) Rest(i int) string {
	if i >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[i:], " ")
}

// Subject — о ком команда: @username, иначе автор сообщения, на которое
// ответили, иначе сам отправитель.
func (c *Command) Subject() int64 {
	switch {
	case c.Target != 0:
		return c.Target
	case c.ReplyAuthor != 0:
		return c.ReplyAuthor
	}
	return c.Actor.UserID
}

// RequireTarget возвращает Target или ReplyAuthor; без них — ValidationError.
func (c *Command) RequireTarget() (int64, error) {
	if c.Target != 0 {
		return c.Target, nil
	}
	if c.ReplyAuthor != 0 && c.ReplyAuthor != c.Actor.UserID {
		return c.ReplyAuthor, nil
	}
	return 0, common.Validation("mention a user with @username or reply to their message")
}
