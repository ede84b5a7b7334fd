// Package ledger ведёт счётчики участников: токены, звёзды, апвоуты,
// штрафы. Любое изменение счётчика идёт через Service.Apply и оставляет
// ровно одну RESULT-запись в журнале.
package ledger

import (
	"fmt"

	"serotonyl.ru/critics-guild/internal/common"
)

// Counter — счётчик пользователя, который умеет менять Apply.
type Counter int

const (
	CounterTokens Counter = iota + 1
	CounterStars
	CounterMapperUpvotes
	CounterCriticUpvotes
	CounterPenalties
	CounterStakes          // сколько заявок сейчас зарезервировано критиком
	CounterCompletedMapper // выполненные заявки автора
	CounterCompletedCritic // выполненные заявки критика
)

// Counters — все счётчики.
var Counters = []Counter{
	CounterTokens, CounterStars, CounterMapperUpvotes, CounterCriticUpvotes,
	CounterPenalties, CounterStakes, CounterCompletedMapper, CounterCompletedCritic,
}

type counterInfo struct {
	name     string
	column   string
	historic string
}

var counterInfos = map[Counter]counterInfo{
	CounterTokens:          {"tokens", "tokens", ""},
	CounterStars:           {"stars", "stars", "historic_stars"},
	CounterMapperUpvotes:   {"mapper upvotes", "mapper_upvotes", "historic_mapper_upvotes"},
	CounterCriticUpvotes:   {"critic upvotes", "critic_upvotes", "historic_critic_upvotes"},
	CounterPenalties:       {"penalties", "penalties", ""},
	CounterStakes:          {"stakes", "stakes", ""},
	CounterCompletedMapper: {"completed mapper requests", "completed_mapper_requests", ""},
	CounterCompletedCritic: {"completed critic requests", "completed_critic_requests", ""},
}

func (c Counter) String() string {
	if info, ok := counterInfos[c]; ok {
		return info.name
	}
	return fmt.Sprintf("counter(%d)", int(c))
}

func (c Counter) Valid() bool {
	_, ok := counterInfos[c]
	return ok
}

// Column — колонка users. Значение берётся только из counterInfos,
// поэтому его можно подставлять в SQL.
func (c Counter) Column() string { return counterInfos[c].column }

// HistoricColumn — колонка исторического двойника или "".
func (c Counter) HistoricColumn() string { return counterInfos[c].historic }

// HasHistory — есть ли у счётчика исторический двойник.
func (c Counter) HasHistory() bool { return c.HistoricColumn() != "" }

// Format — значение счётчика для текстов: "3🔹tokens", "1⭐star".
func (c Counter) Format(n int64) string {
	switch c {
	case CounterTokens:
		return common.FormatTokens(n)
	case CounterStars:
		return common.FormatStars(n)
	case CounterMapperUpvotes:
		return common.FormatUpvotes(n) + " (mapper)"
	case CounterCriticUpvotes:
		return common.FormatUpvotes(n) + " (critic)"
	case CounterPenalties:
		return common.FormatPenalties(n)
	}
	return fmt.Sprintf("%d %s", n, c)
}

// User — строка таблицы users.
type User struct {
	UserID                int64 `db:"user_id"`
	Tokens                int64 `db:"tokens"`
	Stars                 int64 `db:"stars"`
	HistoricStars         int64 `db:"historic_stars"`
	MapperUpvotes         int64 `db:"mapper_upvotes"`
	HistoricMapperUpvotes int64 `db:"historic_mapper_upvotes"`
	CriticUpvotes         int64 `db:"critic_upvotes"`
	HistoricCriticUpvotes int64 `db:"historic_critic_upvotes"`
	Penalties             int64 `db:"penalties"`
	Stakes                int64 `db:"stakes"`
	ClaimedTokens         bool  `db:"claimed_tokens"`
	CompletedMapper       int64 `db:"completed_mapper_requests"`
	CompletedCritic       int64 `db:"completed_critic_requests"`
}

// Value возвращает текущее значение счётчика.
func (u *User) Value(c Counter) int64 {
	switch c {
	case CounterTokens:
		return u.Tokens
	case CounterStars:
		return u.Stars
	case CounterMapperUpvotes:
		return u.MapperUpvotes
	case CounterCriticUpvotes:
		return u.CriticUpvotes
	case CounterPenalties:
		return u.Penalties
	case CounterStakes:
		return u.Stakes
	case CounterCompletedMapper:
		return u.CompletedMapper
	case CounterCompletedCritic:
		return u.CompletedCritic
	}
	return 0
}

// Historic возвращает значение исторического двойника (0, если его нет).
func (u *User) Historic(c Counter) int64 {
	switch c {
	case CounterStars:
		return u.HistoricStars
	case CounterMapperUpvotes:
		return u.HistoricMapperUpvotes
	case CounterCriticUpvotes:
		return u.HistoricCriticUpvotes
	}
	return 0
}

// SetCounter пишет значение в структуру; используется хранилищами.
func (u *User) SetCounter(c Counter, value, historicDelta int64) {
	switch c {
	case CounterTokens:
		u.Tokens = value
	case CounterStars:
		u.Stars = value
		u.HistoricStars += historicDelta
	case CounterMapperUpvotes:
		u.MapperUpvotes = value
		u.HistoricMapperUpvotes += historicDelta
	case CounterCriticUpvotes:
		u.CriticUpvotes = value
		u.HistoricCriticUpvotes += historicDelta
	case CounterPenalties:
		u.Penalties = value
	case CounterStakes:
		u.Stakes = value
	case CounterCompletedMapper:
		u.CompletedMapper = value
	case CounterCompletedCritic:
		u.CompletedCritic = value
	}
}

// ApplyOptions — контекст изменения счётчика.
type ApplyOptions struct {
	Cause          int64 // запись-причина в журнале
	RequestID      int64 // заявка, из-за которой меняется счётчик
	UpdateHistoric bool  // двигать исторический двойник на new - previous
}

// Add — функция обновления "прибавить n".
func Add(n int64) func(int64) int64 {
	return func(prev int64) int64 { return prev + n }
}

// Set — функция обновления "установить n".
func Set(n int64) func(int64) int64 {
	return func(int64) int64 { return n }
}

// Standing — строка лидерборда.
type Standing struct {
	UserID int64
	Value  int64
}

// Board — лидерборд, который можно запросить.
type Board struct {
	Name    string
	Counter Counter
}

// Boards — лидерборды в порядке показа в подсказке.
var Boards = []Board{
	{"stars", CounterStars},
	{"mapper", CounterMapperUpvotes},
	{"critic", CounterCriticUpvotes},
	{"completedmapper", CounterCompletedMapper},
	{"completedcritic", CounterCompletedCritic},
}

// ParseBoard находит лидерборд по имени.
func ParseBoard(name string) (Counter, bool) {
	for _, b := range Boards {
		if b.Name == name {
			return b.Counter, true
		}
	}
	return 0, false
}
