// Package admin — repository.go работает с таблицами admin_sessions и admin_login_attempts.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db/postgres"
)

// Repository работает с админ-таблицами.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// CreateSession создаёт новую сессию администратора.
func (r *Repository) CreateSession(ctx context.Context, s *Session) error {
	_, err := postgres.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO admin_sessions (user_id, session_token, expires_at, is_active)
		VALUES ($1, $2, $3, TRUE)
	`, s.UserID, s.Token, s.ExpiresAt)
	if err != nil {
		return common.Persistence(err, "создание сессии")
	}
	return nil
}

// GetActiveSession возвращает common.ErrNotFound, если сессии нет или она истекла.
func (r *Repository) GetActiveSession(ctx context.Context, userID int64, now time.Time) (*Session, error) {
	var s Session
	err := postgres.Conn(ctx, r.db).QueryRow(ctx, `
		SELECT id, user_id, session_token, authenticated_at, expires_at, last_activity
		FROM admin_sessions
		WHERE user_id = $1 AND is_active = TRUE AND expires_at > $2
		ORDER BY authenticated_at DESC
		LIMIT 1
	`, userID, now).Scan(
		&s.ID, &s.UserID, &s.Token, &s.AuthenticatedAt, &s.ExpiresAt, &s.LastActivity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NotFound("no active admin session")
		}
		return nil, common.Persistence(err, fmt.Sprintf("чтение сессии (user_id=%d)", userID))
	}
	return &s, nil
}

// DeactivateSessions закрывает все сессии пользователя.
func (r *Repository) DeactivateSessions(ctx context.Context, userID int64) error {
	_, err := postgres.Conn(ctx, r.db).Exec(ctx,
		`UPDATE admin_sessions SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE`, userID)
	if err != nil {
		return common.Persistence(err, "закрытие сессий")
	}
	return nil
}

// UpdateActivity обновляет время последней активности.
func (r *Repository) UpdateActivity(ctx context.Context, userID int64) error {
	_, err := postgres.Conn(ctx, r.db).Exec(ctx,
		`UPDATE admin_sessions SET last_activity = NOW() WHERE user_id = $1 AND is_active = TRUE`, userID)
	return err
}

// LogAttempt записывает попытку входа.
func (r *Repository) LogAttempt(ctx context.Context, userID int64, success bool) error {
	_, err := postgres.Conn(ctx, r.db).Exec(ctx,
		`INSERT INTO admin_login_attempts (user_id, success) VALUES ($1, $2)`, userID, success)
	if err != nil {
		return common.Persistence(err, "запись попытки входа")
	}
	return nil
}

// CountFailedSince — число неудачных попыток начиная с since.
func (r *Repository) CountFailedSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var count int
	err := postgres.Conn(ctx, r.db).QueryRow(ctx, `
		SELECT COUNT(*) FROM admin_login_attempts
		WHERE user_id = $1 AND success = FALSE AND attempt_time >= $2
	`, userID, since).Scan(&count)
	if err != nil {
		return 0, common.Persistence(err, "подсчёт попыток входа")
	}
	return count, nil
}
