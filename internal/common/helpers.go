// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: плюрализация счётчиков, форматирование сумм, работа с временем.
package common

import (
	"fmt"
	"strings"
	"time"
)

// Иконки счётчиков, как их видит пользователь.
const (
	IconToken   = "🔹"
	IconStar    = "⭐"
	IconUpvote  = "👍"
	IconPenalty = "🟥"
)

// Pluralize возвращает форму слова для n (английские правила: 1 — ед. число).
//
// Примеры:
//
//	Pluralize(1, "token", "tokens")  → "token"
//	Pluralize(0, "token", "tokens")  → "tokens"
//	Pluralize(-1, "token", "tokens") → "token"
func Pluralize(n int64, one, many string) string {
	if n == 1 || n == -1 {
		return one
	}
	return many
}

// FormatTokens форматирует сумму токенов: FormatTokens(3) → "3🔹tokens".
func FormatTokens(n int64) string {
	return fmt.Sprintf("%d%s%s", n, IconToken, Pluralize(n, "token", "tokens"))
}

// FormatStars форматирует звёзды: FormatStars(1) → "1⭐star".
func FormatStars(n int64) string {
	return fmt.Sprintf("%d%s%s", n, IconStar, Pluralize(n, "star", "stars"))
}

// FormatUpvotes форматирует апвоуты.
func FormatUpvotes(n int64) string {
	return fmt.Sprintf("%d%s%s", n, IconUpvote, Pluralize(n, "upvote", "upvotes"))
}

// FormatPenalties форматирует штрафы.
func FormatPenalties(n int64) string {
	return fmt.Sprintf("%d%s%s", n, IconPenalty, Pluralize(n, "penalty", "penalties"))
}

// FormatSigned возвращает "+5" или "-3".
func FormatSigned(n int64) string {
	if n > 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprintf("%d", n)
}

// Mention — упоминание пользователя в тексте: @username или user#id.
func Mention(userID int64, username string) string {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username != "" {
		return "@" + username
	}
	return fmt.Sprintf("user#%d", userID)
}

// FormatDateTime форматирует время в формат "2006-01-02 15:04" в UTC.
// Используется в выводе журнала.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

// Truncate обрезает строку до n рун, добавляя "…".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
