// Package upvotes — анонимные апвоуты после выполнения заявки.
// Автор может один раз проголосовать за критика, критик — за автора.
package upvotes

import (
	"context"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db"
	"serotonyl.ru/critics-guild/internal/features/audit"
	"serotonyl.ru/critics-guild/internal/features/ledger"
)

// Side — за кого голосуют.
type Side string

const (
	SideCritic Side = "critic" // автор голосует за критика
	SideMapper Side = "mapper" // критик голосует за автора
)

// Parties — участники заявки, нужные для проверки голоса.
type Parties struct {
	AuthorID  int64
	CriticID  int64
	Completed bool
}

// Store — операции хранилища для голосов.
type Store interface {
	// Parties возвращает common.ErrNotFound, если заявки нет.
	Parties(ctx context.Context, requestID int64) (*Parties, error)
	// InsertVote возвращает common.ErrConflict, если голос уже есть.
	InsertVote(ctx context.Context, requestID, voterID int64, side Side) error
}

// Service принимает голоса.
type Service struct {
	store   Store
	tx      db.Transactor
	journal *audit.Service
	ledger  *ledger.Service
}

// NewService создаёт сервис апвоутов.
func NewService(store Store, tx db.Transactor, journal *audit.Service, ledger *ledger.Service) *Service {
	return &Service{store: store, tx: tx, journal: journal, ledger: ledger}
}

// Cast засчитывает голос voter за вторую сторону заявки requestID.
// Голосовать можно только по выполненной заявке и только один раз.
func (s *Service) Cast(ctx context.Context, requestID, voter int64, side Side, cause int64) (ledger.Change, error) {
	var ch ledger.Change
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.store.Parties(ctx, requestID)
		if err != nil {
			return err
		}
		if !p.Completed {
			return common.InvalidState("votes are only accepted for completed requests")
		}
		if p.AuthorID == p.CriticID {
			return common.Authorization("you cannot upvote yourself")
		}

		var (
			target  int64
			counter ledger.Counter
		)
		switch {
		case side == SideCritic && voter == p.AuthorID:
			target, counter = p.CriticID, ledger.CounterCriticUpvotes
		case side == SideMapper && voter == p.CriticID:
			target, counter = p.AuthorID, ledger.CounterMapperUpvotes
		default:
			return common.Authorization("only the other party of this request may vote")
		}

		if err := s.store.InsertVote(ctx, requestID, voter, side); err != nil {
			return err
		}
		prev, next, err := s.ledger.Apply(ctx, target, counter, ledger.Add(1),
			ledger.ApplyOptions{Cause: cause, RequestID: requestID, UpdateHistoric: true})
		ch = ledger.Change{UserID: target, Counter: counter, Prev: prev, Next: next}
		return err
	})
	if err != nil {
		return ledger.Change{}, s.journal.Fail(ctx, audit.Ref{UserID: voter, CauseID: cause}, err)
	}

	log.WithFields(log.Fields{
		"request_id": requestID,
		"side":       side,
	}).Info("Апвоут засчитан")
	return ch, nil
}
