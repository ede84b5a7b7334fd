// Package admin — вход администратора в личных сообщениях по паролю
// (Argon2id) и сессии, без которых админ-команды в DM не принимаются.
package admin

import "time"

const (
	// MaxFailedAttempts неудачных входов за LockoutPeriod блокируют вход.
	MaxFailedAttempts = 3
	LockoutPeriod     = time.Hour
	// SessionTTL — время жизни сессии после входа.
	SessionTTL = 24 * time.Hour
)

// Session — активная сессия администратора.
type Session struct {
	ID              int64     `db:"id"`
	UserID          int64     `db:"user_id"`
	Token           string    `db:"session_token"`
	AuthenticatedAt time.Time `db:"authenticated_at"`
	ExpiresAt       time.Time `db:"expires_at"`
	LastActivity    time.Time `db:"last_activity"`
}
