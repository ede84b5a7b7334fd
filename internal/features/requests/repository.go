// Package requests — repository.go работает с таблицей requests.
package requests

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db/postgres"
)

const requestColumns = `thread_id, author_id, list, critic_id, type, state`

// Repository реализует Store поверх PostgreSQL.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий заявок.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetRequest(ctx context.Context, threadID int64) (*Request, error) {
	return r.get(ctx, `SELECT `+requestColumns+` FROM requests WHERE thread_id = $1`, threadID)
}

// GetRequestForUpdate блокирует строку заявки до конца транзакции:
// два одновременных reserve одной заявки выполняются по очереди.
func (r *Repository) GetRequestForUpdate(ctx context.Context, threadID int64) (*Request, error) {
	return r.get(ctx, `SELECT `+requestColumns+` FROM requests WHERE thread_id = $1 FOR UPDATE`, threadID)
}

func (r *Repository) get(ctx context.Context, query string, threadID int64) (*Request, error) {
	req, err := scanRequest(postgres.Conn(ctx, r.db).QueryRow(ctx, query, threadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NotFound("request %d is not in the database", threadID)
		}
		return nil, common.Persistence(err, fmt.Sprintf("чтение заявки %d", threadID))
	}
	return req, nil
}

func (r *Repository) InsertRequest(ctx context.Context, req *Request) error {
	_, err := postgres.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO requests (thread_id, author_id, list, critic_id, type, state)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		req.ThreadID, req.AuthorID, int16(req.Tier), postgres.Nullable(req.CriticID),
		int16(req.Type), int16(req.State),
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return common.Conflict("request %d already exists", req.ThreadID)
		}
		return common.Persistence(err, "создание заявки")
	}
	return nil
}

func (r *Repository) UpdateRequest(ctx context.Context, req *Request) error {
	tag, err := postgres.Conn(ctx, r.db).Exec(ctx, `
		UPDATE requests
		SET critic_id = $2, state = $3, updated_at = NOW()
		WHERE thread_id = $1
	`, req.ThreadID, postgres.Nullable(req.CriticID), int16(req.State))
	if err != nil {
		return common.Persistence(err, fmt.Sprintf("обновление заявки %d", req.ThreadID))
	}
	if tag.RowsAffected() == 0 {
		return common.NotFound("request %d is not in the database", req.ThreadID)
	}
	return nil
}

func (r *Repository) CountActiveByAuthor(ctx context.Context, authorID int64) (int, error) {
	var n int
	err := postgres.Conn(ctx, r.db).QueryRow(ctx, `
		SELECT COUNT(*) FROM requests
		WHERE author_id = $1 AND state IN ($2, $3)
	`, authorID, int16(StateOpen), int16(StateClaimed)).Scan(&n)
	if err != nil {
		return 0, common.Persistence(err, "подсчёт активных заявок")
	}
	return n, nil
}

func (r *Repository) ListActive(ctx context.Context, userID int64) ([]*Request, error) {
	rows, err := postgres.Conn(ctx, r.db).Query(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE (author_id = $1 OR critic_id = $1) AND state IN ($2, $3)
		ORDER BY thread_id
	`, userID, int16(StateOpen), int16(StateClaimed))
	if err != nil {
		return nil, common.Persistence(err, "получение активных заявок")
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, common.Persistence(err, "сканирование заявки")
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Persistence(err, "получение активных заявок")
	}
	return out, nil
}

// LinkMessage запоминает, что сообщение messageID лежит в треде threadID.
// Повторная привязка того же сообщения ничего не меняет.
func (r *Repository) LinkMessage(ctx context.Context, messageID, threadID int64) error {
	_, err := postgres.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO thread_messages (message_id, thread_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING
	`, messageID, threadID)
	if err != nil {
		return common.Persistence(err, fmt.Sprintf("привязка сообщения %d к заявке %d", messageID, threadID))
	}
	return nil
}

// ThreadOf возвращает корневую заявку для сообщения внутри треда.
func (r *Repository) ThreadOf(ctx context.Context, messageID int64) (int64, error) {
	var threadID int64
	err := postgres.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT thread_id FROM thread_messages WHERE message_id = $1`, messageID).Scan(&threadID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, common.NotFound("message %d is not in any request thread", messageID)
		}
		return 0, common.Persistence(err, fmt.Sprintf("поиск треда сообщения %d", messageID))
	}
	return threadID, nil
}

func scanRequest(row pgx.Row) (*Request, error) {
	var (
		req               Request
		criticID          *int64
		tier, typ, status int16
	)
	if err := row.Scan(&req.ThreadID, &req.AuthorID, &tier, &criticID, &typ, &status); err != nil {
		return nil, err
	}
	req.Tier = common.Tier(tier)
	req.CriticID = postgres.Deref(criticID)
	req.Type = Type(typ)
	req.State = State(status)
	return &req, nil
}
