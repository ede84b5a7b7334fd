// Package db описывает границу транзакций, общую для всех хранилищ.
//
// Каждая команда ядра выполняется как одна единица работы: чтение состояния,
// проверка и запись идут внутри WithinTx. Вложенные вызовы присоединяются
// к внешней транзакции. Побочные эффекты, которые можно показывать наружу
// только после фиксации (зеркало журнала в лог-чат), регистрируются через
// AfterCommit.
package db

import (
	"context"
	"sync"
)

// Transactor выполняет fn атомарно. Если в ctx уже есть транзакция,
// fn выполняется в ней.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type scopeKey struct{}

// Scope — хуки, которые выполнятся после успешной фиксации внешней транзакции.
type Scope struct {
	mu    sync.Mutex
	hooks []func()
}

// Begin открывает новый scope. Вызывается реализацией Transactor
// при старте внешней транзакции.
func Begin(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{}
	return context.WithValue(ctx, scopeKey{}, s), s
}

// InScope сообщает, выполняется ли ctx внутри транзакции.
func InScope(ctx context.Context) bool {
	_, ok := ctx.Value(scopeKey{}).(*Scope)
	return ok
}

// Committed выполняет накопленные хуки по порядку регистрации.
func (s *Scope) Committed() {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// AfterCommit регистрирует fn на выполнение после фиксации.
// Вне транзакции fn выполняется сразу. При откате fn не вызывается.
func AfterCommit(ctx context.Context, fn func()) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	if !ok {
		fn()
		return
	}
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}
