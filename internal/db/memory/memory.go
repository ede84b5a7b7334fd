// Package memory — хранилище в памяти для тестов сервисов и локального
// запуска без PostgreSQL. Реализует Store журнала, леджера, заявок,
// голосов и участников. Транзакция — снимок состояния: при ошибке он возвращается.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/db"
	"serotonyl.ru/critics-guild/internal/features/audit"
	"serotonyl.ru/critics-guild/internal/features/ledger"
	"serotonyl.ru/critics-guild/internal/features/members"
	"serotonyl.ru/critics-guild/internal/features/requests"
	"serotonyl.ru/critics-guild/internal/features/upvotes"
)

type voteKey struct {
	requestID int64
	voterID   int64
}

type state struct {
	users    map[int64]ledger.User
	requests map[int64]requests.Request
	logs     []audit.Entry
	votes    map[voteKey]upvotes.Side
	members  map[int64]members.Member
	threads  map[int64]int64 // message_id -> thread_id
	nextLog  int64
}

func (s *state) clone() *state {
	c := &state{
		users:    make(map[int64]ledger.User, len(s.users)),
		requests: make(map[int64]requests.Request, len(s.requests)),
		logs:     slices.Clone(s.logs),
		votes:    make(map[voteKey]upvotes.Side, len(s.votes)),
		members:  make(map[int64]members.Member, len(s.members)),
		threads:  make(map[int64]int64, len(s.threads)),
		nextLog:  s.nextLog,
	}
	for k, v := range s.threads {
		c.threads[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.votes {
		c.votes[k] = v
	}
	return c
}

// Store — всё состояние гильдии в памяти.
type Store struct {
	txMu sync.Mutex // одна внешняя транзакция за раз
	mu   sync.Mutex
	st   *state

	// FailInsertLog заставляет InsertLog вернуть эту ошибку (для тестов).
	FailInsertLog error
	now           func() time.Time
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		st: &state{
			users:    map[int64]ledger.User{},
			requests: map[int64]requests.Request{},
			votes:    map[voteKey]upvotes.Side{},
			members:  map[int64]members.Member{},
			threads:  map[int64]int64{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithinTx выполняет fn над снимком: ошибка или паника fn откатывает
// все изменения. Вложенный вызов присоединяется к внешнему.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.InScope(ctx) {
		return fn(ctx)
	}

	txCtx, scope := db.Begin(ctx)
	if err := s.run(txCtx, fn); err != nil {
		return err
	}
	// хуки — уже без txMu: они могут открыть свою транзакцию
	scope.Committed()
	return nil
}

func (s *Store) run(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	committed := false
	defer func() {
		if !committed {
			s.mu.Lock()
			s.st = snapshot
			s.mu.Unlock()
		}
	}()

	if err := fn(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

// --- users ---

func (s *Store) EnsureUser(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.users[userID]; !ok {
		s.st.users[userID] = ledger.User{UserID: userID}
	}
	return nil
}

func (s *Store) UserExists(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.st.users[userID]
	return ok, nil
}

func (s *Store) GetUser(_ context.Context, userID int64) (*ledger.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.st.users[userID]
	if !ok {
		return nil, common.NotFound("user %d is not in the database", userID)
	}
	return &u, nil
}

// GetUserForUpdate: блокировку строки заменяет txMu.
func (s *Store) GetUserForUpdate(ctx context.Context, userID int64) (*ledger.User, error) {
	return s.GetUser(ctx, userID)
}

func (s *Store) SetCounter(_ context.Context, userID int64, c ledger.Counter, value, historicDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.st.users[userID]
	if !ok {
		return common.NotFound("user %d is not in the database", userID)
	}
	u.SetCounter(c, value, historicDelta)
	s.st.users[userID] = u
	return nil
}

func (s *Store) SetClaimed(_ context.Context, userID int64, claimed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.st.users[userID]
	if !ok {
		return common.NotFound("user %d is not in the database", userID)
	}
	u.ClaimedTokens = claimed
	s.st.users[userID] = u
	return nil
}

func (s *Store) ResetClaims(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, u := range s.st.users {
		if u.ClaimedTokens {
			u.ClaimedTokens = false
			s.st.users[id] = u
			n++
		}
	}
	return n, nil
}

func (s *Store) UsersWithStanding(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []int64
	for id, u := range s.st.users {
		if u.Stars != 0 || u.MapperUpvotes != 0 || u.CriticUpvotes != 0 {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) TopUsers(_ context.Context, c ledger.Counter, historic bool, limit int) ([]ledger.Standing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ledger.Standing
	for id, u := range s.st.users {
		v := u.Value(c)
		if historic {
			v = u.Historic(c)
		}
		if v > 0 {
			out = append(out, ledger.Standing{UserID: id, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- requests ---

func (s *Store) RequestExists(_ context.Context, requestID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.st.requests[requestID]
	return ok, nil
}

func (s *Store) GetRequest(_ context.Context, threadID int64) (*requests.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.st.requests[threadID]
	if !ok {
		return nil, common.NotFound("request %d is not in the database", threadID)
	}
	return &r, nil
}

func (s *Store) GetRequestForUpdate(ctx context.Context, threadID int64) (*requests.Request, error) {
	return s.GetRequest(ctx, threadID)
}

func (s *Store) InsertRequest(_ context.Context, r *requests.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.requests[r.ThreadID]; ok {
		return common.Conflict("request %d already exists", r.ThreadID)
	}
	s.st.requests[r.ThreadID] = *r
	return nil
}

func (s *Store) UpdateRequest(_ context.Context, r *requests.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.st.requests[r.ThreadID]
	if !ok {
		return common.NotFound("request %d is not in the database", r.ThreadID)
	}
	cur.CriticID = r.CriticID
	cur.State = r.State
	s.st.requests[r.ThreadID] = cur
	return nil
}

func (s *Store) CountActiveByAuthor(_ context.Context, authorID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.st.requests {
		if r.AuthorID == authorID && r.State.Active() {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListActive(_ context.Context, userID int64) ([]*requests.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*requests.Request
	for _, r := range s.st.requests {
		if (r.AuthorID == userID || r.CriticID == userID) && r.State.Active() {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })
	return out, nil
}

func (s *Store) LinkMessage(_ context.Context, messageID, threadID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.requests[threadID]; !ok {
		return common.Persistence(errors.New("thread_messages: нет заявки"), fmt.Sprintf("привязка сообщения %d к заявке %d", messageID, threadID))
	}
	if _, ok := s.st.threads[messageID]; !ok {
		s.st.threads[messageID] = threadID
	}
	return nil
}

func (s *Store) ThreadOf(_ context.Context, messageID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threadID, ok := s.st.threads[messageID]
	if !ok {
		return 0, common.NotFound("message %d is not in any request thread", messageID)
	}
	return threadID, nil
}

// --- votes ---

func (s *Store) Parties(_ context.Context, requestID int64) (*upvotes.Parties, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.st.requests[requestID]
	if !ok {
		return nil, common.NotFound("request %d is not in the database", requestID)
	}
	return &upvotes.Parties{
		AuthorID:  r.AuthorID,
		CriticID:  r.CriticID,
		Completed: r.State == requests.StateCompleted,
	}, nil
}

func (s *Store) InsertVote(_ context.Context, requestID, voterID int64, side upvotes.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := voteKey{requestID: requestID, voterID: voterID}
	if _, ok := s.st.votes[k]; ok {
		return common.Conflict("you have already voted on this request")
	}
	s.st.votes[k] = side
	return nil
}

// --- members ---

func (s *Store) Upsert(_ context.Context, p members.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.st.members[p.UserID]
	if !ok {
		m = members.Member{UserID: p.UserID, JoinedAt: s.now()}
	}
	m.Username = p.Username
	m.FirstName = p.FirstName
	m.LastName = p.LastName
	m.UpdatedAt = s.now()
	s.st.members[p.UserID] = m
	return nil
}

func (s *Store) GetByUserID(_ context.Context, userID int64) (*members.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.st.members[userID]
	if !ok {
		return nil, common.NotFound("user %d is not a member", userID)
	}
	return &m, nil
}

func (s *Store) GetByUsername(_ context.Context, username string) (*members.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.st.members {
		if m.Username != "" && strings.EqualFold(m.Username, username) {
			return &m, nil
		}
	}
	return nil, common.NotFound("nobody with username @%s has been seen yet", username)
}

func (s *Store) UpdateRole(_ context.Context, userID int64, role *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.st.members[userID]
	if !ok {
		return common.NotFound("user %d is not a member", userID)
	}
	m.Role = role
	m.UpdatedAt = s.now()
	s.st.members[userID] = m
	return nil
}

func (s *Store) ListWithRole(context.Context) ([]*members.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*members.Member
	for _, m := range s.st.members {
		if m.Role != nil {
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if *out[i].Role != *out[j].Role {
			return *out[i].Role > *out[j].Role
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// --- log ---

func (s *Store) InsertLog(_ context.Context, e *audit.Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailInsertLog != nil {
		return 0, s.FailInsertLog
	}
	s.st.nextLog++
	saved := *e
	saved.ID = s.st.nextLog
	if saved.Timestamp.IsZero() {
		saved.Timestamp = s.now()
	}
	s.st.logs = append(s.st.logs, saved)
	return saved.ID, nil
}

func (s *Store) GetLog(_ context.Context, id int64) (*audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.st.logs {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, common.NotFound("log entry %d does not exist", id)
}

func (s *Store) LogsByCause(_ context.Context, causeID int64) ([]*audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*audit.Entry
	for _, e := range s.st.logs {
		if e.CauseID == causeID {
			out = append(out, &e)
		}
	}
	return out, nil
}

func (s *Store) QueryLogs(_ context.Context, f audit.Filter) ([]*audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*audit.Entry
	for _, e := range s.st.logs {
		if f.UserID != 0 && e.UserID != f.UserID {
			continue
		}
		if f.RequestID != 0 && e.RequestID != f.RequestID {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if len(f.Classes) > 0 && !slices.Contains(f.Classes, e.Class) {
			continue
		}
		out = append(out, &e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// Entries — копия всего журнала по возрастанию id.
func (s *Store) Entries() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.logs)
}

// User — копия строки пользователя (ok=false, если её нет).
func (s *Store) User(userID int64) (ledger.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[userID]
	return u, ok
}

// PutUser кладёт пользователя как есть (для подготовки тестов).
func (s *Store) PutUser(u ledger.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.UserID] = u
}

// Request — копия заявки.
func (s *Store) Request(threadID int64) (requests.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.requests[threadID]
	return r, ok
}

// PutRequest кладёт заявку как есть.
func (s *Store) PutRequest(r requests.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.requests[r.ThreadID] = r
}

// PutMember кладёт участника как есть.
func (s *Store) PutMember(m members.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.members[m.UserID] = m
}
