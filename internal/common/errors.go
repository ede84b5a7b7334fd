// Package common — errors.go определяет таксономию ошибок ядра гильдии.
// Все ожидаемые отказы (валидация, права, состояние заявки, баланс) — это
// *Error с конкретным Kind. Обработчики различают их через errors.Is
// и показывают пользователю Reason, не раскрывая внутренностей.
package common

import (
	"errors"
	"fmt"
)

// Kind — категория ошибки.
type Kind int

const (
	KindUnknown           Kind = iota // не *Error: сбой, которого мы не ждали
	KindValidation                    // кривой ввод (сумма, количество тегов, тип заявки)
	KindAuthorization                 // нет роли / не владелец
	KindInvalidState                  // переход из состояния, которое его запрещает
	KindConflict                      // утверждение вызывающего противоречит БД
	KindInsufficientFunds             // не хватает токенов
	KindNotFound                      // заявки или пользователя нет
	KindPersistence                   // БД упала на записи
	KindConsistency                   // висячая ссылка в журнале (не фатально)
)

var kindNames = map[Kind]string{
	KindUnknown:           "Unknown",
	KindValidation:        "ValidationError",
	KindAuthorization:     "AuthorizationError",
	KindInvalidState:      "InvalidStateError",
	KindConflict:          "ConflictError",
	KindInsufficientFunds: "InsufficientFundsError",
	KindNotFound:          "NotFoundError",
	KindPersistence:       "PersistenceError",
	KindConsistency:       "ConsistencyWarning",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error — типизированный результат неудачной операции.
// Reason — человекочитаемая причина (уходит пользователю как есть).
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is сопоставляет ошибку с «голым» сентинелом того же Kind
// (errors.Is(err, common.ErrConflict)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == "" && t.Err == nil && t.Kind == e.Kind
}

// Сентинелы по категориям — только для errors.Is.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrAuthorization     = &Error{Kind: KindAuthorization}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrPersistence       = &Error{Kind: KindPersistence}
	ErrConsistency       = &Error{Kind: KindConsistency}
)

// Ошибки леджера (токены, подарки, ежемесячная выдача)
var (
	// ErrNonPositiveAmount — сумма ноль или отрицательная
	ErrNonPositiveAmount = Validation("amount must be a positive number")
	// ErrSelfGift — попытка подарить токены самому себе
	ErrSelfGift = Validation("you cannot gift tokens to yourself")
	// ErrAlreadyClaimed — ежемесячные токены уже получены
	ErrAlreadyClaimed = InvalidState("you have already claimed your monthly tokens, wait until the next month")
)

// Ошибки заявок
var (
	// ErrWrongTagCount — у заявки не ровно один тег списка и один тег типа
	ErrWrongTagCount = Validation("a request needs exactly one list tag and exactly one type tag")
	// ErrCriticRequired — завершение из OPEN без указания критика
	ErrCriticRequired = Validation("this request was never reserved, name the critic who completed it")
	// ErrNotReply — команда по заявке отправлена не ответом на пост заявки
	ErrNotReply = Validation("reply to the request post to use this command")
)

// Ошибки админки
var (
	// ErrWrongPassword — неверный пароль
	ErrWrongPassword = Authorization("wrong password")
	// ErrTooManyAttempts — слишком много неудачных попыток входа
	ErrTooManyAttempts = Authorization("too many attempts, wait one hour")
	// ErrRoleUnknown — роль не из списка critic / trusted_critic
	ErrRoleUnknown = Validation("role must be one of: critic, trusted_critic, none")
)

func newError(kind Kind, format string, args ...any) *Error {
	reason := format
	if len(args) > 0 {
		reason = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Reason: reason}
}

// Validation создаёт ValidationError.
func Validation(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

// Authorization создаёт AuthorizationError. Причина обязательна:
// ядро никогда не отказывает молча.
func Authorization(format string, args ...any) *Error {
	return newError(KindAuthorization, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return newError(KindInvalidState, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

func InsufficientFunds(format string, args ...any) *Error {
	return newError(KindInsufficientFunds, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

// Persistence оборачивает сбой хранилища.
func Persistence(err error, op string) *Error {
	return &Error{Kind: KindPersistence, Reason: op, Err: err}
}

// Consistency — предупреждение о висячей ссылке.
func Consistency(format string, args ...any) *Error {
	return newError(KindConsistency, format, args...)
}

// KindOf возвращает Kind первой *Error в цепочке, иначе KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf возвращает причину для пользователя. Для неожиданных ошибок —
// пустую строку: их текст наружу не отдаём.
func ReasonOf(err error) string {
	if !IsExpected(err) {
		return ""
	}
	var e *Error
	errors.As(err, &e)
	return e.Reason
}

// IsExpected — ошибка из ожидаемых (возвращается вызывающему как отказ).
// PersistenceError и всё нетипизированное — нет.
func IsExpected(err error) bool {
	switch KindOf(err) {
	case KindUnknown, KindPersistence:
		return false
	}
	return true
}
