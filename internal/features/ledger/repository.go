// Package ledger — repository.go выполняет операции с таблицей users.
// Все изменения идут внутри транзакции команды (postgres.Conn берёт её из ctx).
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db/postgres"
)

const userColumns = `user_id, tokens, stars, historic_stars, mapper_upvotes, historic_mapper_upvotes,
	critic_upvotes, historic_critic_upvotes, penalties, stakes, claimed_tokens,
	completed_mapper_requests, completed_critic_requests`

// Repository реализует Store поверх PostgreSQL.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий счётчиков.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// EnsureUser создаёт пользователя с нулевыми счётчиками, если его ещё нет.
func (r *Repository) EnsureUser(ctx context.Context, userID int64) error {
	_, err := postgres.Conn(ctx, r.db).Exec(ctx,
		`INSERT INTO users (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return common.Persistence(err, "создание пользователя")
	}
	return nil
}

func (r *Repository) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := postgres.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, common.Persistence(err, "проверка пользователя")
	}
	return exists, nil
}

func (r *Repository) GetUser(ctx context.Context, userID int64) (*User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID)
}

// GetUserForUpdate блокирует строку до конца транзакции.
func (r *Repository) GetUserForUpdate(ctx context.Context, userID int64) (*User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1 FOR UPDATE`, userID)
}

func (r *Repository) getUser(ctx context.Context, query string, userID int64) (*User, error) {
	var u User
	err := postgres.Conn(ctx, r.db).QueryRow(ctx, query, userID).Scan(
		&u.UserID, &u.Tokens, &u.Stars, &u.HistoricStars,
		&u.MapperUpvotes, &u.HistoricMapperUpvotes,
		&u.CriticUpvotes, &u.HistoricCriticUpvotes,
		&u.Penalties, &u.Stakes, &u.ClaimedTokens,
		&u.CompletedMapper, &u.CompletedCritic,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NotFound("user %d not found", userID)
		}
		return nil, common.Persistence(err, fmt.Sprintf("получение пользователя %d", userID))
	}
	return &u, nil
}

// SetCounter пишет новое значение и, если delta != 0, сдвигает
// исторический двойник.
func (r *Repository) SetCounter(ctx context.Context, userID int64, c Counter, value, historicDelta int64) error {
	query := fmt.Sprintf(`UPDATE users SET %s = $2, updated_at = NOW() WHERE user_id = $1`, c.Column())
	args := []any{userID, value}
	if historicDelta != 0 && c.HasHistory() {
		query = fmt.Sprintf(`UPDATE users SET %s = $2, %s = %s + $3, updated_at = NOW() WHERE user_id = $1`,
			c.Column(), c.HistoricColumn(), c.HistoricColumn())
		args = append(args, historicDelta)
	}

	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, query, args...)
	if err != nil {
		return common.Persistence(err, "обновление "+c.Column())
	}
	if tag.RowsAffected() == 0 {
		return common.NotFound("user %d not found", userID)
	}
	return nil
}

func (r *Repository) SetClaimed(ctx context.Context, userID int64, claimed bool) error {
	_, err := postgres.Conn(ctx, r.db).Exec(ctx,
		`UPDATE users SET claimed_tokens = $2, updated_at = NOW() WHERE user_id = $1`, userID, claimed)
	if err != nil {
		return common.Persistence(err, "обновление claimed_tokens")
	}
	return nil
}

func (r *Repository) ResetClaims(ctx context.Context) (int64, error) {
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx,
		`UPDATE users SET claimed_tokens = FALSE, updated_at = NOW() WHERE claimed_tokens`)
	if err != nil {
		return 0, common.Persistence(err, "сброс ежемесячных выдач")
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) UsersWithStanding(ctx context.Context) ([]int64, error) {
	rows, err := postgres.Conn(ctx, r.db).Query(ctx, `
		SELECT user_id FROM users
		WHERE stars <> 0 OR mapper_upvotes <> 0 OR critic_upvotes <> 0
		ORDER BY user_id
	`)
	if err != nil {
		return nil, common.Persistence(err, "получение пользователей")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, common.Persistence(err, "сканирование пользователя")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Persistence(err, "получение пользователей")
	}
	return ids, nil
}

// TopUsers — лидерборд по счётчику (или его историческому двойнику).
// При равенстве выше тот, у кого меньше user_id.
func (r *Repository) TopUsers(ctx context.Context, c Counter, historic bool, limit int) ([]Standing, error) {
	column := c.Column()
	if historic {
		column = c.HistoricColumn()
	}
	rows, err := postgres.Conn(ctx, r.db).Query(ctx, fmt.Sprintf(`
		SELECT user_id, %[1]s FROM users
		WHERE %[1]s > 0
		ORDER BY %[1]s DESC, user_id
		LIMIT $1
	`, column), limit)
	if err != nil {
		return nil, common.Persistence(err, "получение лидерборда")
	}
	defer rows.Close()

	var out []Standing
	for rows.Next() {
		var st Standing
		if err := rows.Scan(&st.UserID, &st.Value); err != nil {
			return nil, common.Persistence(err, "сканирование лидерборда")
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Persistence(err, "получение лидерборда")
	}
	return out, nil
}
