// Package audit — handlers.go выводит журнал в чат администрации
// (userlog / requestlog / systemlog) и зеркалит новые записи.
package audit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/tg"
)

const (
	defaultLogDays = 1
	defaultLogMax  = 10
)

// Лимит Telegram — 4096 символов; оставляем запас.
const maxMessageLen = 3800

// Handler обрабатывает команды чтения журнала.
type Handler struct {
	service *Service
	bot     tg.Sender
}

// NewHandler создаёт обработчик журнала.
func NewHandler(service *Service, bot tg.Sender) *Handler {
	return &Handler{service: service, bot: bot}
}

// HandleLog выводит записи по фильтру. tree — с причинами и следствиями.
func (h *Handler) HandleLog(ctx context.Context, chatID int64, title string, f Filter, tree bool) error {
	entries, err := h.service.Query(ctx, f)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		tg.SendText(h.bot, chatID, title+": nothing found.")
		return nil
	}

	lines, err := h.service.Render(ctx, entries, tree)
	if err != nil {
		return err
	}

	for _, chunk := range Chunk(append([]string{title + ":"}, lines...), maxMessageLen) {
		tg.SendText(h.bot, chatID, chunk)
	}
	return nil
}

// HandleUserLog — userlog @user [days] [max] [tree] [commands|results|errors...].
func (h *Handler) HandleUserLog(ctx context.Context, cmd *tg.Command) error {
	target, err := cmd.RequireTarget()
	if err != nil {
		return err
	}
	f, tree, err := ParseLogArgs(cmd.Args, time.Now(), false, ClassCommand, ClassResult, ClassError)
	if err != nil {
		return err
	}
	f.UserID = target
	return h.HandleLog(ctx, cmd.ChatID, fmt.Sprintf("Log of user %d", target), f, tree)
}

// HandleRequestLog — requestlog <request id> [days] [max] [tree] [classes...].
func (h *Handler) HandleRequestLog(ctx context.Context, cmd *tg.Command) error {
	if len(cmd.Args) == 0 {
		return common.Validation("usage: requestlog <request id> [days] [max] [tree]")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(cmd.Args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return common.Validation("%q is not a request id", cmd.Args[0])
	}
	f, tree, err := ParseLogArgs(cmd.Args[1:], time.Now(), false, ClassCommand, ClassResult, ClassError)
	if err != nil {
		return err
	}
	f.RequestID = id
	return h.HandleLog(ctx, cmd.ChatID, fmt.Sprintf("Log of request #%d", id), f, tree)
}

// HandleSystemLog — systemlog [days] [max] [flat]. По умолчанию с деревом.
func (h *Handler) HandleSystemLog(ctx context.Context, cmd *tg.Command) error {
	f, tree, err := ParseLogArgs(cmd.Args, time.Now(), true, ClassSystem)
	if err != nil {
		return err
	}
	return h.HandleLog(ctx, cmd.ChatID, "System log", f, tree)
}

// ParseLogArgs разбирает хвост команд журнала: первое число — дни,
// второе — максимум записей; "tree"/"flat" включают и выключают дерево;
// названия классов сужают выборку. Слова с @ пропускаются.
func ParseLogArgs(args []string, now time.Time, tree bool, classes ...Class) (Filter, bool, error) {
	days, limit := defaultLogDays, defaultLogMax
	var picked []Class
	numbers := 0

	for _, a := range args {
		if strings.HasPrefix(a, "@") {
			continue
		}
		if n, err := strconv.Atoi(a); err == nil {
			if n <= 0 {
				return Filter{}, false, common.Validation("%d must be positive", n)
			}
			switch numbers {
			case 0:
				days = n
			case 1:
				limit = n
			default:
				return Filter{}, false, common.Validation("too many numbers: expected [days] [max]")
			}
			numbers++
			continue
		}
		switch strings.ToLower(a) {
		case "tree":
			tree = true
			continue
		case "flat":
			tree = false
			continue
		}
		c, ok := ParseClass(a)
		if !ok {
			return Filter{}, false, common.Validation("unknown option %q", a)
		}
		picked = append(picked, c)
	}
	if len(picked) > 0 {
		classes = picked
	}

	return Filter{
		Classes: classes,
		Since:   now.AddDate(0, 0, -days),
		Limit:   limit,
	}, tree, nil
}

// Render превращает записи в строки вывода. С tree после каждой записи идут
// её причины ("caused by") и, рекурсивно, следствия ("with consequence").
func (s *Service) Render(ctx context.Context, entries []*Entry, tree bool) ([]string, error) {
	var lines []string
	for _, e := range entries {
		lines = append(lines, line("", e))
		if !tree {
			continue
		}

		for cause, err := range s.ChainOfCauses(ctx, e) {
			if err != nil {
				return nil, err
			}
			lines = append(lines, line("  caused by ", cause))
		}

		more, err := s.consequenceLines(ctx, e, "  ")
		if err != nil {
			return nil, err
		}
		lines = append(lines, more...)
	}
	return lines, nil
}

func (s *Service) consequenceLines(ctx context.Context, parent *Entry, indent string) ([]string, error) {
	children, err := s.ConsequencesOf(ctx, parent.ID)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, child := range children {
		// следствие всегда позже причины; иначе не спускаемся
		if child.ID <= parent.ID {
			continue
		}
		lines = append(lines, line(indent+"with consequence ", child))
		more, err := s.consequenceLines(ctx, child, indent+"  ")
		if err != nil {
			return nil, err
		}
		lines = append(lines, more...)
	}
	return lines, nil
}

func line(prefix string, e *Entry) string {
	s := fmt.Sprintf("%s%s%s/%d (%s) - %s",
		prefix, e.Class.Icon(), e.Class, e.ID, common.FormatDateTime(e.Timestamp), e.Summary)
	if e.RequestID != 0 {
		s += fmt.Sprintf(" (on request #%d)", e.RequestID)
	}
	return s
}

// Chunk склеивает строки в сообщения не длиннее limit символов.
// Слишком длинная строка обрезается.
func Chunk(lines []string, limit int) []string {
	var (
		out []string
		sb  strings.Builder
	)
	for _, l := range lines {
		l = common.Truncate(l, limit-1)
		if sb.Len() > 0 && sb.Len()+len(l)+1 > limit {
			out = append(out, sb.String())
			sb.Reset()
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(l)
	}
	if sb.Len() > 0 {
		out = append(out, sb.String())
	}
	return out
}

// ChannelMirror дублирует записи журнала и алерты в чат администрации.
type ChannelMirror struct {
	bot    tg.Sender
	chatID int64
}

// NewChannelMirror создаёт зеркало в чат chatID.
func NewChannelMirror(bot tg.Sender, chatID int64) *ChannelMirror {
	return &ChannelMirror{bot: bot, chatID: chatID}
}

func (m *ChannelMirror) Mirror(e *Entry) {
	log.WithFields(log.Fields{
		"log_id":  e.ID,
		"class":   e.Class.String(),
		"user_id": e.UserID,
	}).Debug(e.Summary)
	tg.SendText(m.bot, m.chatID, common.Truncate(e.Format(), maxMessageLen))
}

func (m *ChannelMirror) Alert(text string) {
	log.Warn(text)
	tg.SendText(m.bot, m.chatID, "🚨 "+text)
}
