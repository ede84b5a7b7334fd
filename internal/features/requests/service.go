// Package requests — service.go: переходы заявки и их побочные эффекты
// в леджере. Каждый переход выполняется одной транзакцией; неудача
// журналируется после отката.
package requests

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db"
	"serotonyl.ru/critics-guild/internal/features/audit"
	"serotonyl.ru/critics-guild/internal/features/ledger"
	"serotonyl.ru/critics-guild/internal/features/policy"
	"serotonyl.ru/critics-guild/internal/metrics"
)

// Store — операции хранилища над таблицей requests.
type Store interface {
	// GetRequest и GetRequestForUpdate возвращают common.ErrNotFound, если заявки нет.
	GetRequest(ctx context.Context, threadID int64) (*Request, error)
	GetRequestForUpdate(ctx context.Context, threadID int64) (*Request, error)
	// InsertRequest возвращает common.ErrConflict, если thread_id уже занят.
	InsertRequest(ctx context.Context, r *Request) error
	UpdateRequest(ctx context.Context, r *Request) error
	CountActiveByAuthor(ctx context.Context, authorID int64) (int, error)
	// ListActive — активные заявки, где пользователь автор или критик.
	ListActive(ctx context.Context, userID int64) ([]*Request, error)
	// LinkMessage привязывает сообщение треда к корневой заявке; повтор не ошибка.
	LinkMessage(ctx context.Context, messageID, threadID int64) error
	// ThreadOf возвращает common.ErrNotFound, если сообщение ни к чему не привязано.
	ThreadOf(ctx context.Context, messageID int64) (int64, error)
}

// Service — машина состояний заявок.
type Service struct {
	store   Store
	tx      db.Transactor
	journal *audit.Service
	ledger  *ledger.Service
	pricing *Pricing
}

// NewService создаёт сервис заявок.
func NewService(store Store, tx db.Transactor, journal *audit.Service, ledger *ledger.Service, pricing *Pricing) *Service {
	return &Service{
		store:   store,
		tx:      tx,
		journal: journal,
		ledger:  ledger,
		pricing: pricing,
	}
}

// Pricing — таблица цен сервиса.
func (s *Service) Pricing() *Pricing { return s.pricing }

// fail журналирует неудачу перехода. Ссылка на несуществующую заявку
// не пишется, чтобы не плодить заметки о висячих ссылках.
func (s *Service) fail(ctx context.Context, userID, threadID, cause int64, err error) error {
	ref := audit.Ref{UserID: userID, RequestID: threadID, CauseID: cause}
	if errors.Is(err, common.ErrNotFound) {
		ref.RequestID = 0
	}
	return s.journal.Fail(ctx, ref, err)
}

func transition(from, to State) {
	metrics.RecordTransition(from.String(), to.String())
	log.WithFields(log.Fields{"from": from, "to": to}).Debug("Переход заявки")
}

// Create создаёт заявку в OPEN. В платных списках сначала списывается
// цена; если токенов не хватает, заявки не будет.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Outcome, error) {
	var out *Outcome
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.create(ctx, in)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, in.AuthorID, 0, in.Cause, err)
	}
	return out, nil
}

// Submit — Create с проверками приёма: штрафы и лимит активных заявок.
// Проверки идут до любой записи и в той же транзакции, что и создание.
func (s *Service) Submit(ctx context.Context, in CreateInput, limits Limits) (*Outcome, error) {
	var out *Outcome
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		u, err := s.ledger.Lock(ctx, in.AuthorID)
		if err != nil {
			return err
		}
		if u.Penalties >= limits.MaxPenalties {
			return common.Authorization("you have %s, you are not allowed to create requests with this many penalties",
				common.FormatPenalties(u.Penalties))
		}

		active, err := s.store.CountActiveByAuthor(ctx, in.AuthorID)
		if err != nil {
			return err
		}
		if active >= limits.MaxActive {
			return common.Authorization("you already have %d active %s, you may not have more than %d at any one time",
				active, common.Pluralize(int64(active), "request", "requests"), limits.MaxActive)
		}

		out, err = s.create(ctx, in)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, in.AuthorID, 0, in.Cause, err)
	}
	return out, nil
}

func (s *Service) create(ctx context.Context, in CreateInput) (*Outcome, error) {
	if !in.Tier.Valid() {
		return nil, common.Validation("unknown list")
	}
	if !in.Type.Valid() || !s.pricing.Allowed(in.Tier, in.Type) {
		return nil, common.Validation("%s requests cannot be posted in the %s", in.Type, in.Tier.Title())
	}

	price := s.pricing.Price(in.Tier, in.Type)
	u, err := s.ledger.Lock(ctx, in.AuthorID)
	if err != nil {
		return nil, err
	}
	// бесплатный список не смотрит на баланс, он может быть и отрицательным
	if price.Cost > 0 && u.Tokens < price.Cost {
		return nil, common.InsufficientFunds("you only have %s and need %s to post a %s request in the %s",
			common.FormatTokens(u.Tokens), common.FormatTokens(price.Cost), in.Type, in.Tier.Title())
	}

	r := &Request{
		ThreadID: in.ThreadID,
		AuthorID: in.AuthorID,
		Tier:     in.Tier,
		Type:     in.Type,
		State:    StateOpen,
	}
	if err := s.store.InsertRequest(ctx, r); err != nil {
		return nil, err
	}

	out := &Outcome{Request: r, Price: price, Tokens: u.Tokens}
	if price.Cost > 0 {
		_, next, err := s.ledger.Apply(ctx, in.AuthorID, ledger.CounterTokens, ledger.Add(-price.Cost),
			ledger.ApplyOptions{Cause: in.Cause, RequestID: in.ThreadID})
		if err != nil {
			return nil, err
		}
		out.Tokens = next
	}

	if _, err := s.journal.Result(ctx, audit.Ref{UserID: in.AuthorID, RequestID: in.ThreadID, CauseID: in.Cause},
		"User %d created request %d of %s in the %s.", in.AuthorID, in.ThreadID, in.Type, in.Tier.Title()); err != nil {
		return nil, err
	}

	if out.Active, err = s.store.CountActiveByAuthor(ctx, in.AuthorID); err != nil {
		return nil, err
	}
	metrics.RecordTransition("NEW", StateOpen.String())
	return out, nil
}

// Reserve: OPEN → CLAIMED. Только платные списки и только критик нужного уровня.
func (s *Service) Reserve(ctx context.Context, threadID int64, actor policy.Actor, cause int64) (*Outcome, error) {
	var out *Outcome
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		r, err := s.store.GetRequestForUpdate(ctx, threadID)
		if err != nil {
			return err
		}
		if r.State != StateOpen {
			return common.InvalidState("this request is %s, only open requests can be reserved", r.State)
		}
		if err := policy.RequireReserve(r.Tier, actor); err != nil {
			return err
		}

		r.State = StateClaimed
		r.CriticID = actor.UserID
		if err := s.store.UpdateRequest(ctx, r); err != nil {
			return err
		}
		if _, err := s.journal.Result(ctx, audit.Ref{UserID: actor.UserID, RequestID: threadID, CauseID: cause},
			"User %d reserved request %d.", actor.UserID, threadID); err != nil {
			return err
		}
		if _, _, err := s.ledger.Apply(ctx, actor.UserID, ledger.CounterStakes, ledger.Add(1),
			ledger.ApplyOptions{Cause: cause, RequestID: threadID}); err != nil {
			return err
		}

		out = &Outcome{Request: r, Price: s.pricing.Price(r.Tier, r.Type)}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, actor.UserID, threadID, cause, err)
	}

	transition(StateOpen, StateClaimed)
	return out, nil
}

// Release: CLAIMED → OPEN. Снять может сам критик или доверенный критик.
func (s *Service) Release(ctx context.Context, threadID int64, actor policy.Actor, cause int64) (*Outcome, error) {
	var out *Outcome
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		r, err := s.store.GetRequestForUpdate(ctx, threadID)
		if err != nil {
			return err
		}
		if r.State != StateClaimed {
			return common.InvalidState("this request is %s, only reserved requests can be released", r.State)
		}
		if r.CriticID != actor.UserID && !policy.IsTrustedCritic(actor.Roles) {
			return common.Authorization("you cannot release this request because you did not reserve it")
		}

		critic := r.CriticID
		r.State = StateOpen
		r.CriticID = 0
		if err := s.store.UpdateRequest(ctx, r); err != nil {
			return err
		}
		if _, err := s.journal.Result(ctx, audit.Ref{UserID: critic, RequestID: threadID, CauseID: cause},
			"User %d was released from request %d.", critic, threadID); err != nil {
			return err
		}
		if _, _, err := s.ledger.Apply(ctx, critic, ledger.CounterStakes, ledger.Add(-1),
			ledger.ApplyOptions{Cause: cause, RequestID: threadID}); err != nil {
			return err
		}

		out = &Outcome{Request: r, Critic: critic}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, actor.UserID, threadID, cause, err)
	}

	transition(StateClaimed, StateOpen)
	return out, nil
}

// Cancel: OPEN → CANCELLED. Цена создания возвращается автору целиком.
// Зарезервированную заявку сначала нужно освободить.
func (s *Service) Cancel(ctx context.Context, threadID int64, actor policy.Actor, reason string, cause int64) (*Outcome, error) {
	var out *Outcome
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		r, err := s.store.GetRequestForUpdate(ctx, threadID)
		if err != nil {
			return err
		}
		switch r.State {
		case StateOpen:
		case StateClaimed:
			return common.InvalidState("this request is reserved by a critic, it must be released before it can be cancelled")
		default:
			return common.InvalidState("this request is %s, only open requests can be cancelled", r.State)
		}
		if err := policy.RequireOwnership(actor, r.AuthorID); err != nil {
			return err
		}

		r.State = StateCancelled
		if err := s.store.UpdateRequest(ctx, r); err != nil {
			return err
		}
		if _, err := s.journal.Result(ctx, audit.Ref{UserID: actor.UserID, RequestID: threadID, CauseID: cause},
			"User %d cancelled request %d with reason: %s", actor.UserID, threadID, reason); err != nil {
			return err
		}

		out = &Outcome{Request: r, Price: s.pricing.Price(r.Tier, r.Type)}
		if out.Price.Cost > 0 {
			_, next, err := s.ledger.Apply(ctx, r.AuthorID, ledger.CounterTokens, ledger.Add(out.Price.Cost),
				ledger.ApplyOptions{Cause: cause, RequestID: threadID})
			if err != nil {
				return err
			}
			out.Tokens = next
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, actor.UserID, threadID, cause, err)
	}

	transition(StateOpen, StateCancelled)
	return out, nil
}

// Complete: OPEN или CLAIMED → COMPLETED. Только доверенный критик.
//
// Из OPEN критик обязателен (CriticOverride). Из CLAIMED указанный критик
// должен совпасть с зарезервировавшим, иначе ConflictError.
// В платных списках критик получает награду, автор по желанию получает
// токен за вовлечённость, критик по желанию получает звезду.
// Открытый список на леджер не влияет.
func (s *Service) Complete(ctx context.Context, in CompleteInput, actor policy.Actor) (*Completion, error) {
	var (
		out  *Completion
		from State
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		r, err := s.store.GetRequestForUpdate(ctx, in.ThreadID)
		if err != nil {
			return err
		}

		if err := policy.RequireTrustedCritic(actor); err != nil {
			return err
		}

		from = r.State
		critic := r.CriticID
		switch r.State {
		case StateOpen:
			if in.CriticOverride == 0 {
				return common.ErrCriticRequired
			}
			critic = in.CriticOverride
		case StateClaimed:
			if in.CriticOverride != 0 && in.CriticOverride != r.CriticID {
				return common.Conflict("the critic you named is not the one who reserved this request")
			}
		default:
			return common.InvalidState("this request is %s, only open or reserved requests can be completed", r.State)
		}

		r.State = StateCompleted
		r.CriticID = critic
		if err := s.store.UpdateRequest(ctx, r); err != nil {
			return err
		}
		if _, err := s.journal.Result(ctx, audit.Ref{UserID: actor.UserID, RequestID: in.ThreadID, CauseID: in.Cause},
			"User %d marked request %d as completed by user %d with notes: %s",
			actor.UserID, in.ThreadID, critic, in.Notes); err != nil {
			return err
		}

		out = &Completion{
			Request: r,
			Author:  Notice{UserID: r.AuthorID, Counterpart: critic},
			Critic:  Notice{UserID: critic, Counterpart: r.AuthorID},
			Notes:   in.Notes,
		}
		if !r.Tier.Paid() {
			return nil
		}
		return s.settle(ctx, r, from, in, out)
	})
	if err != nil {
		return nil, s.fail(ctx, actor.UserID, in.ThreadID, in.Cause, err)
	}

	transition(from, StateCompleted)
	return out, nil
}

// settle проводит расчёт по выполненной платной заявке.
func (s *Service) settle(ctx context.Context, r *Request, from State, in CompleteInput, out *Completion) error {
	opts := ledger.ApplyOptions{Cause: in.Cause, RequestID: r.ThreadID}
	reward := s.pricing.Price(r.Tier, r.Type).Reward

	type step struct {
		user int64
		c    ledger.Counter
		f    func(int64) int64
		hist bool
	}
	steps := []step{
		{r.CriticID, ledger.CounterTokens, ledger.Add(reward), false},
	}
	if in.ReturnTokensToAuthor {
		steps = append(steps, step{r.AuthorID, ledger.CounterTokens, ledger.Add(1), false})
	}
	if in.AwardStar {
		steps = append(steps, step{r.CriticID, ledger.CounterStars, ledger.Add(1), true})
	}
	steps = append(steps,
		step{r.AuthorID, ledger.CounterCompletedMapper, ledger.Add(1), false},
		step{r.CriticID, ledger.CounterCompletedCritic, ledger.Add(1), false},
	)
	if from == StateClaimed {
		steps = append(steps, step{r.CriticID, ledger.CounterStakes, ledger.Add(-1), false})
	}

	for _, st := range steps {
		o := opts
		o.UpdateHistoric = st.hist
		if _, _, err := s.ledger.Apply(ctx, st.user, st.c, st.f, o); err != nil {
			return err
		}
	}

	out.Reward = reward
	out.Critic.Tokens = reward
	out.Critic.Star = in.AwardStar
	if in.ReturnTokensToAuthor {
		out.Author.Tokens = 1
	}
	return nil
}

// Get возвращает заявку.
func (s *Service) Get(ctx context.Context, threadID int64) (*Request, error) {
	return s.store.GetRequest(ctx, threadID)
}

// CountActive — число активных заявок автора. Лимит задаёт вызывающий.
func (s *Service) CountActive(ctx context.Context, authorID int64) (int, error) {
	return s.store.CountActiveByAuthor(ctx, authorID)
}

// ListActive — активные заявки, где пользователь автор или критик.
func (s *Service) ListActive(ctx context.Context, userID int64) ([]*Request, error) {
	return s.store.ListActive(ctx, userID)
}

// Resolve находит корневую заявку для сообщения: это либо сам пост заявки,
// либо сообщение, ранее привязанное к её треду.
func (s *Service) Resolve(ctx context.Context, messageID int64) (*Request, error) {
	r, err := s.store.GetRequest(ctx, messageID)
	if err == nil || !errors.Is(err, common.ErrNotFound) {
		return r, err
	}
	root, err := s.store.ThreadOf(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return s.store.GetRequest(ctx, root)
}

// Link запоминает, что messageID лежит в треде заявки threadID.
func (s *Service) Link(ctx context.Context, messageID, threadID int64) error {
	if messageID == 0 || messageID == threadID {
		return nil
	}
	return s.store.LinkMessage(ctx, messageID, threadID)
}
