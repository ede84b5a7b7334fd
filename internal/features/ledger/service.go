// Package ledger — service.go: атомарные изменения счётчиков и команды
// экономики (ежемесячные токены, подарки, награды, ручные правки, сбросы).
package ledger

import (
	"context"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db"
	"serotonyl.ru/critics-guild/internal/features/audit"
	"serotonyl.ru/critics-guild/internal/metrics"
)

// Лидерборд по умолчанию и его потолок.
const (
	DefaultBoardSize = 10
	MaxBoardSize     = 50
)

// Store — операции хранилища над таблицей users.
type Store interface {
	EnsureUser(ctx context.Context, userID int64) error
	UserExists(ctx context.Context, userID int64) (bool, error)
	// GetUser и GetUserForUpdate возвращают common.ErrNotFound, если строки нет.
	GetUser(ctx context.Context, userID int64) (*User, error)
	GetUserForUpdate(ctx context.Context, userID int64) (*User, error)
	SetCounter(ctx context.Context, userID int64, c Counter, value, historicDelta int64) error
	SetClaimed(ctx context.Context, userID int64, claimed bool) error
	// ResetClaims снимает флаг у всех и возвращает число затронутых строк.
	ResetClaims(ctx context.Context) (int64, error)
	// UsersWithStanding — пользователи с ненулевыми звёздами или апвоутами.
	UsersWithStanding(ctx context.Context) ([]int64, error)
	TopUsers(ctx context.Context, c Counter, historic bool, limit int) ([]Standing, error)
}

// Change — результат одного Apply.
type Change struct {
	UserID  int64
	Counter Counter
	Prev    int64
	Next    int64
}

// Service — движок счётчиков.
type Service struct {
	store         Store
	tx            db.Transactor
	journal       *audit.Service
	monthlyTokens int64
}

// NewService создаёт сервис. monthlyTokens — размер ежемесячной выдачи.
func NewService(store Store, tx db.Transactor, journal *audit.Service, monthlyTokens int64) *Service {
	return &Service{
		store:         store,
		tx:            tx,
		journal:       journal,
		monthlyTokens: monthlyTokens,
	}
}

// MonthlyTokens — размер ежемесячной выдачи.
func (s *Service) MonthlyTokens() int64 { return s.monthlyTokens }

// Apply читает счётчик, вычисляет f(previous) и пишет результат.
//
// При UpdateHistoric исторический двойник (если есть) сдвигается на
// next - previous. Пишется ровно одна RESULT-запись с обоими значениями.
// Баланс не ограничивается снизу: проверка перерасхода на вызывающем.
// Ошибки не журналируются: это делает команда, внутри которой идёт Apply.
func (s *Service) Apply(ctx context.Context, userID int64, c Counter, f func(int64) int64, opts ApplyOptions) (prev, next int64, err error) {
	if !c.Valid() {
		return 0, 0, common.Validation("unknown counter %d", int(c))
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.EnsureUser(ctx, userID); err != nil {
			return err
		}
		u, err := s.store.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		prev = u.Value(c)
		next = f(prev)

		var historicDelta int64
		if opts.UpdateHistoric && c.HasHistory() {
			historicDelta = next - prev
		}
		if err := s.store.SetCounter(ctx, userID, c, next, historicDelta); err != nil {
			return err
		}

		_, err = s.journal.Result(ctx,
			audit.Ref{UserID: userID, RequestID: opts.RequestID, CauseID: opts.Cause},
			"User %d went from %s to %s.", userID, c.Format(prev), c.Format(next))
		return err
	})
	if err != nil {
		return 0, 0, err
	}

	metrics.RecordLedgerMutation(c.String())
	return prev, next, nil
}

func (s *Service) change(ctx context.Context, userID int64, c Counter, f func(int64) int64, opts ApplyOptions) (Change, error) {
	prev, next, err := s.Apply(ctx, userID, c, f, opts)
	return Change{UserID: userID, Counter: c, Prev: prev, Next: next}, err
}

// GetUser возвращает пользователя, создавая его при первом обращении.
func (s *Service) GetUser(ctx context.Context, userID int64) (*User, error) {
	var u *User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.EnsureUser(ctx, userID); err != nil {
			return err
		}
		var err error
		u, err = s.store.GetUser(ctx, userID)
		return err
	})
	return u, err
}

// Lock возвращает пользователя с блокировкой строки до конца транзакции.
// Вызывается только внутри WithinTx: проверка баланса и Apply после неё
// должны видеть одно и то же значение.
func (s *Service) Lock(ctx context.Context, userID int64) (*User, error) {
	if err := s.store.EnsureUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.GetUserForUpdate(ctx, userID)
}

// Exists сообщает, знает ли гильдия пользователя. Пользователя не создаёт.
func (s *Service) Exists(ctx context.Context, userID int64) (bool, error) {
	return s.store.UserExists(ctx, userID)
}

// ClaimMonthly выдаёт ежемесячные токены. Повторно в том же периоде —
// ErrAlreadyClaimed.
func (s *Service) ClaimMonthly(ctx context.Context, userID, cause int64) (Change, error) {
	var ch Change
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.EnsureUser(ctx, userID); err != nil {
			return err
		}
		u, err := s.store.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if u.ClaimedTokens {
			return common.ErrAlreadyClaimed
		}

		if err := s.store.SetClaimed(ctx, userID, true); err != nil {
			return err
		}
		if _, err := s.journal.Result(ctx, audit.Ref{UserID: userID, CauseID: cause},
			"User %d marked as having claimed the monthly tokens.", userID); err != nil {
			return err
		}

		ch, err = s.change(ctx, userID, CounterTokens, Add(s.monthlyTokens), ApplyOptions{Cause: cause})
		return err
	})
	if err != nil {
		return Change{}, s.journal.Fail(ctx, audit.Ref{UserID: userID, CauseID: cause}, err)
	}
	return ch, nil
}

// Gift переводит amount токенов от from к to.
func (s *Service) Gift(ctx context.Context, from, to, amount, cause int64) (sent, received Change, err error) {
	ref := audit.Ref{UserID: from, CauseID: cause}
	if from == to {
		return sent, received, s.journal.Fail(ctx, ref, common.ErrSelfGift)
	}
	if amount <= 0 {
		return sent, received, s.journal.Fail(ctx, ref, common.ErrNonPositiveAmount)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.EnsureUser(ctx, from); err != nil {
			return err
		}
		u, err := s.store.GetUserForUpdate(ctx, from)
		if err != nil {
			return err
		}
		if u.Tokens < amount {
			return common.InsufficientFunds("you only have %s", common.FormatTokens(u.Tokens))
		}

		if sent, err = s.change(ctx, from, CounterTokens, Add(-amount), ApplyOptions{Cause: cause}); err != nil {
			return err
		}
		received, err = s.change(ctx, to, CounterTokens, Add(amount), ApplyOptions{Cause: cause})
		return err
	})
	if err != nil {
		return Change{}, Change{}, s.journal.Fail(ctx, ref, err)
	}

	log.WithFields(log.Fields{
		"from":   from,
		"to":     to,
		"amount": amount,
	}).Info("Подарок токенов выполнен")
	return sent, received, nil
}

// RewardTokens начисляет токены известному пользователю. Права проверяет
// вызывающий (доверенный критик).
func (s *Service) RewardTokens(ctx context.Context, target, amount, cause int64) (Change, error) {
	if amount <= 0 {
		return Change{}, s.journal.Fail(ctx, audit.Ref{CauseID: cause}, common.ErrNonPositiveAmount)
	}
	return s.reward(ctx, target, CounterTokens, amount, cause)
}

// RewardStar начисляет звезду известному пользователю; историческое
// значение тоже растёт.
func (s *Service) RewardStar(ctx context.Context, target, cause int64) (Change, error) {
	return s.reward(ctx, target, CounterStars, 1, cause)
}

func (s *Service) reward(ctx context.Context, target int64, c Counter, amount, cause int64) (Change, error) {
	var ch Change
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := s.store.UserExists(ctx, target)
		if err != nil {
			return err
		}
		if !exists {
			return common.NotFound("user %d is not known to the guild yet", target)
		}
		ch, err = s.change(ctx, target, c, Add(amount), ApplyOptions{Cause: cause, UpdateHistoric: true})
		return err
	})
	if err != nil {
		// без UserID: запись об ошибке не должна заводить неизвестного пользователя
		return Change{}, s.journal.Fail(ctx, audit.Ref{CauseID: cause}, err)
	}
	return ch, nil
}

// Settable — счётчики, которые админ может выставить вручную.
var Settable = []Counter{CounterTokens, CounterStars, CounterMapperUpvotes, CounterCriticUpvotes, CounterPenalties}

// Set выставляет счётчик в value в обход цен и наград. Историческое
// значение сдвигается на разницу. Токены могут уйти в минус только здесь.
func (s *Service) Set(ctx context.Context, target int64, c Counter, value, cause int64) (Change, error) {
	settable := false
	for _, sc := range Settable {
		settable = settable || sc == c
	}
	if !settable {
		return Change{}, s.journal.Fail(ctx, audit.Ref{UserID: target, CauseID: cause},
			common.Validation("%s cannot be set by hand", c))
	}

	ch, err := s.change(ctx, target, c, Set(value), ApplyOptions{Cause: cause, UpdateHistoric: true})
	if err != nil {
		return Change{}, s.journal.Fail(ctx, audit.Ref{UserID: target, CauseID: cause}, err)
	}
	return ch, nil
}

// ResetLeaderboards обнуляет звёзды и апвоуты, не трогая исторические
// значения. Возвращает число затронутых пользователей.
func (s *Service) ResetLeaderboards(ctx context.Context, cause int64) (int, error) {
	var n int
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ids, err := s.store.UsersWithStanding(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			u, err := s.store.GetUserForUpdate(ctx, id)
			if err != nil {
				return err
			}
			for _, c := range []Counter{CounterStars, CounterMapperUpvotes, CounterCriticUpvotes} {
				if u.Value(c) == 0 {
					continue
				}
				if _, _, err := s.Apply(ctx, id, c, Set(0), ApplyOptions{Cause: cause}); err != nil {
					return err
				}
			}
		}
		n = len(ids)
		return nil
	})
	if err != nil {
		return 0, s.journal.Fail(ctx, audit.Ref{CauseID: cause}, err)
	}

	log.WithField("users", n).Info("Лидерборды сброшены")
	return n, nil
}

// ResetMonthlyClaims снимает флаг claimed_tokens у всех пользователей.
func (s *Service) ResetMonthlyClaims(ctx context.Context, cause int64) (int64, error) {
	var n int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if n, err = s.store.ResetClaims(ctx); err != nil {
			return err
		}
		_, err = s.journal.Result(ctx, audit.Ref{CauseID: cause},
			"Monthly token claims were reset for %d users.", n)
		return err
	})
	if err != nil {
		return 0, s.journal.Fail(ctx, audit.Ref{CauseID: cause}, err)
	}

	log.WithField("users", n).Info("Ежемесячные выдачи сброшены")
	return n, nil
}

// Leaderboard возвращает лучших по счётчику, по убыванию.
func (s *Service) Leaderboard(ctx context.Context, c Counter, historic bool, limit int) ([]Standing, error) {
	known := false
	for _, b := range Boards {
		known = known || b.Counter == c
	}
	if !known {
		return nil, common.Validation("there is no leaderboard for %s", c)
	}
	if historic && !c.HasHistory() {
		return nil, common.Validation("%s have no all-time leaderboard", c)
	}
	if limit <= 0 {
		limit = DefaultBoardSize
	}
	if limit > MaxBoardSize {
		limit = MaxBoardSize
	}
	return s.store.TopUsers(ctx, c, historic, limit)
}
