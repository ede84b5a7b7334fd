// Package upvotes — repository.go работает с таблицей votes.
package upvotes

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db/postgres"
)

// stateCompleted — номер состояния COMPLETED в requests.state.
const stateCompleted = 3

// Repository реализует Store поверх PostgreSQL.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий голосов.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Parties(ctx context.Context, requestID int64) (*Parties, error) {
	var (
		p        Parties
		criticID *int64
		state    int16
	)
	err := postgres.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT author_id, critic_id, state FROM requests WHERE thread_id = $1`, requestID,
	).Scan(&p.AuthorID, &criticID, &state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NotFound("request %d is not in the database", requestID)
		}
		return nil, common.Persistence(err, fmt.Sprintf("чтение заявки %d", requestID))
	}
	p.CriticID = postgres.Deref(criticID)
	p.Completed = state == stateCompleted
	return &p, nil
}

// InsertVote: уникальность (request_id, voter_id) держит БД.
func (r *Repository) InsertVote(ctx context.Context, requestID, voterID int64, side Side) error {
	_, err := postgres.Conn(ctx, r.db).Exec(ctx,
		`INSERT INTO votes (request_id, voter_id, side) VALUES ($1, $2, $3)`,
		requestID, voterID, string(side))
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return common.Conflict("you have already voted on this request")
		}
		return common.Persistence(err, "запись голоса")
	}
	return nil
}
