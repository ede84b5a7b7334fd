// Package audit — service.go: запись в журнал, обход причин и следствий.
package audit

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db"
	"serotonyl.ru/critics-guild/internal/metrics"
)

// Store — операции хранилища, нужные журналу.
type Store interface {
	// EnsureUser создаёт пользователя с нулевыми счётчиками, если его нет.
	EnsureUser(ctx context.Context, userID int64) error
	RequestExists(ctx context.Context, requestID int64) (bool, error)
	// InsertLog пишет запись и возвращает выданный id.
	InsertLog(ctx context.Context, e *Entry) (int64, error)
	// GetLog возвращает common.ErrNotFound, если записи нет.
	GetLog(ctx context.Context, id int64) (*Entry, error)
	LogsByCause(ctx context.Context, causeID int64) ([]*Entry, error)
	QueryLogs(ctx context.Context, f Filter) ([]*Entry, error)
}

// Mirror получает каждую запись после фиксации транзакции.
type Mirror interface {
	Mirror(e *Entry)
}

// Alerter поднимает тревогу для операторов.
type Alerter interface {
	Alert(text string)
}

// Service — причинный журнал.
type Service struct {
	store   Store
	tx      db.Transactor
	mirror  Mirror
	alerter Alerter
	now     func() time.Time
}

// NewService создаёт журнал. mirror и alerter могут быть nil.
func NewService(store Store, tx db.Transactor, mirror Mirror, alerter Alerter) *Service {
	return &Service{
		store:   store,
		tx:      tx,
		mirror:  mirror,
		alerter: alerter,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record пишет запись и возвращает её id.
//
// Неизвестный пользователь создаётся. Неизвестная заявка не создаётся:
// сначала пишется SYSTEM-заметка о висячей ссылке, а сама запись
// сохраняется без request_id.
func (s *Service) Record(ctx context.Context, class Class, summary string, ref Ref) (int64, error) {
	var id int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if ref.UserID != 0 {
			if err := s.store.EnsureUser(ctx, ref.UserID); err != nil {
				return fmt.Errorf("ошибка создания пользователя %d: %w", ref.UserID, err)
			}
		}

		if ref.RequestID != 0 {
			exists, err := s.store.RequestExists(ctx, ref.RequestID)
			if err != nil {
				return fmt.Errorf("ошибка проверки заявки %d: %w", ref.RequestID, err)
			}
			if !exists {
				s.danglingRequest(ctx, ref.RequestID)
				if _, err := s.insert(ctx, &Entry{
					Class:   ClassSystem,
					Summary: fmt.Sprintf("Attempt to write log entry with request_id not present in the database: %d", ref.RequestID),
				}); err != nil {
					return err
				}
				ref.RequestID = 0
			}
		}

		var err error
		id, err = s.insert(ctx, &Entry{
			UserID:    ref.UserID,
			RequestID: ref.RequestID,
			Class:     class,
			CauseID:   ref.CauseID,
			Summary:   summary,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Service) insert(ctx context.Context, e *Entry) (int64, error) {
	e.Timestamp = s.now()
	id, err := s.store.InsertLog(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("ошибка записи в журнал: %w", err)
	}
	e.ID = id
	metrics.RecordAuditEntry(e.Class.String())

	if s.mirror != nil {
		db.AfterCommit(ctx, func() { s.mirror.Mirror(e) })
	}
	return id, nil
}

func (s *Service) danglingRequest(ctx context.Context, requestID int64) {
	warn := common.Consistency("request %d is not in the database, reference dropped", requestID)
	metrics.RecordConsistencyWarning()
	log.WithFields(log.Fields{
		"component":  "audit",
		"request_id": requestID,
	}).Warn(warn.Error())
}

// Command пишет COMMAND-запись. Её id — причина всего, что сделает команда.
func (s *Service) Command(ctx context.Context, ref Ref, format string, args ...any) (int64, error) {
	return s.Record(ctx, ClassCommand, fmt.Sprintf(format, args...), ref)
}

func (s *Service) Result(ctx context.Context, ref Ref, format string, args ...any) (int64, error) {
	return s.Record(ctx, ClassResult, fmt.Sprintf(format, args...), ref)
}

func (s *Service) Error(ctx context.Context, ref Ref, format string, args ...any) (int64, error) {
	return s.Record(ctx, ClassError, fmt.Sprintf(format, args...), ref)
}

func (s *Service) System(ctx context.Context, ref Ref, format string, args ...any) (int64, error) {
	return s.Record(ctx, ClassSystem, fmt.Sprintf(format, args...), ref)
}

// recorded помечает ошибку, уже записанную в журнал.
type recorded struct{ error }

func (r recorded) Unwrap() error { return r.error }

// Recorded сообщает, что Fail уже записал эту ошибку.
func Recorded(err error) bool {
	var r recorded
	return errors.As(err, &r)
}

// Fail фиксирует неудачу команды и возвращает err, помеченную как
// записанную (errors.Is / errors.As продолжают работать).
//
// Ожидаемые ошибки пишутся как ERROR. Всё остальное (сбой БД, баг)
// пишется как SYSTEM по возможности и уходит операторам алертом.
// Вызывается после отката транзакции команды. Повторный Fail той же
// ошибки ничего не пишет.
func (s *Service) Fail(ctx context.Context, ref Ref, err error) error {
	if err == nil || Recorded(err) {
		return err
	}

	if common.IsExpected(err) {
		if _, logErr := s.Record(ctx, ClassError, err.Error(), ref); logErr != nil {
			log.WithError(logErr).Error("Не удалось записать ERROR в журнал")
		}
		return recorded{err}
	}

	log.WithError(err).WithFields(log.Fields{
		"user_id":    ref.UserID,
		"request_id": ref.RequestID,
		"cause_id":   ref.CauseID,
	}).Error("Команда прервана внутренней ошибкой")

	if _, logErr := s.Record(ctx, ClassSystem,
		fmt.Sprintf("Command aborted by an internal failure: %v", err),
		Ref{CauseID: ref.CauseID},
	); logErr != nil {
		log.WithError(logErr).Error("Не удалось записать SYSTEM в журнал")
	}
	s.Alert(fmt.Sprintf("IMPORTANT!! A command failed with an internal error (cause %d): %v", ref.CauseID, err))
	return recorded{err}
}

// Alert отправляет алерт операторам (если настроен).
func (s *Service) Alert(text string) {
	metrics.RecordOperatorAlert()
	if s.alerter != nil {
		s.alerter.Alert(text)
	}
}

// Get возвращает запись по id.
func (s *Service) Get(ctx context.Context, id int64) (*Entry, error) {
	return s.store.GetLog(ctx, id)
}

// Query возвращает записи по фильтру.
func (s *Service) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	return s.store.QueryLogs(ctx, f)
}

// ChainOfCauses лениво идёт по cause_id назад от e (сама e не выдаётся).
// Останавливается на записи без причины или на отсутствующем родителе.
// Каждый шаг обязан уменьшать id; нарушение выдаётся как ConsistencyWarning,
// так что обход всегда конечен.
func (s *Service) ChainOfCauses(ctx context.Context, e *Entry) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		cur := e
		for cur.CauseID != 0 {
			if cur.CauseID >= cur.ID {
				yield(nil, common.Consistency("log entry %d names cause %d which is not earlier", cur.ID, cur.CauseID))
				return
			}
			parent, err := s.store.GetLog(ctx, cur.CauseID)
			if errors.Is(err, common.ErrNotFound) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(parent, nil) {
				return
			}
			cur = parent
		}
	}
}

// ConsequencesOf возвращает записи, у которых cause_id = id.
func (s *Service) ConsequencesOf(ctx context.Context, id int64) ([]*Entry, error) {
	return s.store.LogsByCause(ctx, id)
}
