// Package audit — причинный журнал. Каждая мутация ядра пишет сюда ровно
// одну запись; запись может ссылаться на запись-причину (cause_id),
// так что по журналу восстанавливается, что и почему произошло.
package audit

import (
	"fmt"
	"strings"
	"time"
)

// Class определяет только иконку и важность записи, на логику не влияет.
type Class int

const (
	ClassSystem  Class = 1
	ClassCommand Class = 2
	ClassResult  Class = 3
	ClassError   Class = 4
)

// AllClasses — все классы в порядке номеров.
var AllClasses = []Class{ClassSystem, ClassCommand, ClassResult, ClassError}

func (c Class) String() string {
	switch c {
	case ClassSystem:
		return "SYSTEM"
	case ClassCommand:
		return "COMMAND"
	case ClassResult:
		return "RESULT"
	case ClassError:
		return "ERROR"
	}
	return fmt.Sprintf("CLASS(%d)", int(c))
}

func (c Class) Icon() string {
	switch c {
	case ClassSystem:
		return "🖥️"
	case ClassCommand:
		return "👉"
	case ClassResult:
		return "🔢"
	case ClassError:
		return "‼️"
	}
	return ""
}

// ParseClass понимает "command", "results", "errors" и т.п.
func ParseClass(s string) (Class, bool) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	for _, c := range AllClasses {
		if strings.ToLower(c.String()) == s {
			return c, true
		}
	}
	return 0, false
}

// Entry — запись журнала. Нулевые UserID/RequestID/CauseID означают NULL.
type Entry struct {
	ID        int64     `db:"log_id"`
	UserID    int64     `db:"user_id"`
	RequestID int64     `db:"request_id"`
	Timestamp time.Time `db:"created_at"`
	Class     Class     `db:"class"`
	CauseID   int64     `db:"cause_id"`
	Summary   string    `db:"summary"`
}

// Format — строка для лог-чата: "🔢RESULT/42 - summary".
func (e *Entry) Format() string {
	return fmt.Sprintf("%s%s/%d - %s", e.Class.Icon(), e.Class, e.ID, e.Summary)
}

// Ref — к чему привязана запись.
type Ref struct {
	UserID    int64 // субъект (создаётся лениво)
	RequestID int64 // заявка (висячая ссылка отбрасывается)
	CauseID   int64 // запись-причина
}

// Caused возвращает копию Ref с другой причиной.
func (r Ref) Caused(by int64) Ref {
	r.CauseID = by
	return r
}

// Filter — выборка для userlog/requestlog/systemlog.
// Возвращаются последние Limit записей, в хронологическом порядке.
type Filter struct {
	UserID    int64
	RequestID int64
	Classes   []Class
	Since     time.Time
	Limit     int
}
