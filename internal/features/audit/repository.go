// Package audit — repository.go работает с таблицей log_entries.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db/postgres"
)

const entryColumns = `log_id, user_id, request_id, created_at, class, cause_id, summary`

// Repository реализует Store поверх PostgreSQL.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий журнала.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// EnsureUser заводит строку в users, если её ещё нет.
func (r *Repository) EnsureUser(ctx context.Context, userID int64) error {
	_, err := postgres.Conn(ctx, r.db).Exec(ctx,
		`INSERT INTO users (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return common.Persistence(err, "создание пользователя")
	}
	return nil
}

func (r *Repository) RequestExists(ctx context.Context, requestID int64) (bool, error) {
	var exists bool
	err := postgres.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM requests WHERE thread_id = $1)`, requestID).Scan(&exists)
	if err != nil {
		return false, common.Persistence(err, "проверка заявки")
	}
	return exists, nil
}

func (r *Repository) InsertLog(ctx context.Context, e *Entry) (int64, error) {
	var id int64
	err := postgres.Conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO log_entries (user_id, request_id, created_at, class, cause_id, summary)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING log_id
	`,
		postgres.Nullable(e.UserID), postgres.Nullable(e.RequestID), e.Timestamp,
		int16(e.Class), postgres.Nullable(e.CauseID), e.Summary,
	).Scan(&id)
	if err != nil {
		return 0, common.Persistence(err, "вставка записи журнала")
	}
	return id, nil
}

func (r *Repository) GetLog(ctx context.Context, id int64) (*Entry, error) {
	row := postgres.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+entryColumns+` FROM log_entries WHERE log_id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NotFound("log entry %d not found", id)
		}
		return nil, common.Persistence(err, fmt.Sprintf("чтение записи журнала %d", id))
	}
	return e, nil
}

func (r *Repository) LogsByCause(ctx context.Context, causeID int64) ([]*Entry, error) {
	return r.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM log_entries WHERE cause_id = $1 ORDER BY log_id`, causeID)
}

// QueryLogs собирает WHERE из заданных полей фильтра. Берутся последние
// Limit записей, возвращаются по возрастанию id.
func (r *Repository) QueryLogs(ctx context.Context, f Filter) ([]*Entry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.UserID != 0 {
		where = append(where, "user_id = "+arg(f.UserID))
	}
	if f.RequestID != 0 {
		where = append(where, "request_id = "+arg(f.RequestID))
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= "+arg(f.Since))
	}
	if len(f.Classes) > 0 {
		classes := make([]int16, len(f.Classes))
		for i, c := range f.Classes {
			classes[i] = int16(c)
		}
		where = append(where, "class = ANY("+arg(classes)+")")
	}

	query := `SELECT ` + entryColumns + ` FROM log_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query = `SELECT * FROM (` + query + ` ORDER BY log_id DESC LIMIT ` + arg(f.Limit) + `) recent ORDER BY log_id`

	return r.queryEntries(ctx, query, args...)
}

func (r *Repository) queryEntries(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := postgres.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, common.Persistence(err, "запрос журнала")
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, common.Persistence(err, "сканирование записи журнала")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Persistence(err, "чтение журнала")
	}
	return out, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e                          Entry
		userID, requestID, causeID *int64
		class                      int16
	)
	if err := row.Scan(&e.ID, &userID, &requestID, &e.Timestamp, &class, &causeID, &e.Summary); err != nil {
		return nil, err
	}
	e.UserID = postgres.Deref(userID)
	e.RequestID = postgres.Deref(requestID)
	e.CauseID = postgres.Deref(causeID)
	e.Class = Class(class)
	return &e, nil
}
