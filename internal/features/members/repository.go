// Package members — repository.go отвечает за операции с таблицей members.
package members

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db/postgres"
)

const memberColumns = `user_id, username, first_name, last_name, role, is_admin, joined_at, updated_at`

type Repository struct {
	db postgres.DB
}

func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// Upsert добавляет участника или обновляет имя/username.
// Роль и флаг админа не трогает.
func (r *Repository) Upsert(ctx context.Context, p Profile) error {
	_, err := postgres.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO members (user_id, username, first_name, last_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    updated_at = NOW()
	`, p.UserID, p.Username, p.FirstName, p.LastName)
	if err != nil {
		return common.Persistence(err, "создание/обновление участника")
	}
	return nil
}

// GetByUserID возвращает common.ErrNotFound, если участника нет.
func (r *Repository) GetByUserID(ctx context.Context, userID int64) (*Member, error) {
	m, err := scanMember(postgres.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NotFound("user %d is not a member", userID)
		}
		return nil, common.Persistence(err, fmt.Sprintf("чтение участника (user_id=%d)", userID))
	}
	return m, nil
}

// GetByUsername ищет без учёта регистра, username без '@'.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*Member, error) {
	m, err := scanMember(postgres.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE LOWER(username) = LOWER($1)`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NotFound("nobody with username @%s has been seen yet", username)
		}
		return nil, common.Persistence(err, fmt.Sprintf("чтение участника (username=%s)", username))
	}
	return m, nil
}

// UpdateRole пишет роль; nil снимает её.
func (r *Repository) UpdateRole(ctx context.Context, userID int64, role *string) error {
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx,
		`UPDATE members SET role = $2, updated_at = NOW() WHERE user_id = $1`, userID, role)
	if err != nil {
		return common.Persistence(err, "обновление роли")
	}
	if tag.RowsAffected() == 0 {
		return common.NotFound("user %d is not a member", userID)
	}
	return nil
}

// ListWithRole — участники с назначенной ролью, по имени.
func (r *Repository) ListWithRole(ctx context.Context) ([]*Member, error) {
	rows, err := postgres.Conn(ctx, r.db).Query(ctx, `
		SELECT `+memberColumns+` FROM members
		WHERE role IS NOT NULL
		ORDER BY role DESC, LOWER(username), user_id
	`)
	if err != nil {
		return nil, common.Persistence(err, "запрос участников")
	}
	defer rows.Close()

	var out []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, common.Persistence(err, "сканирование строки")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Persistence(err, "чтение строк")
	}
	return out, nil
}

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	if err := row.Scan(
		&m.UserID, &m.Username, &m.FirstName, &m.LastName,
		&m.Role, &m.IsAdmin, &m.JoinedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}
