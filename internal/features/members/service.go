// Package members — service.go: регистрация участников, разбор @username,
// роли и сборка policy.Actor для диспетчера.
package members

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/config"
	"serotonyl.ru/critics-guild/internal/db"
	"serotonyl.ru/critics-guild/internal/features/audit"
	"serotonyl.ru/critics-guild/internal/features/policy"
)

// Store — операции над таблицей members.
type Store interface {
	Upsert(ctx context.Context, p Profile) error
	// GetByUserID и GetByUsername возвращают common.ErrNotFound.
	GetByUserID(ctx context.Context, userID int64) (*Member, error)
	GetByUsername(ctx context.Context, username string) (*Member, error)
	UpdateRole(ctx context.Context, userID int64, role *string) error
	ListWithRole(ctx context.Context) ([]*Member, error)
}

// Service управляет участниками.
type Service struct {
	store   Store
	tx      db.Transactor
	journal *audit.Service
	cfg     *config.Config
}

// NewService создаёт сервис участников.
func NewService(store Store, tx db.Transactor, journal *audit.Service, cfg *config.Config) *Service {
	return &Service{store: store, tx: tx, journal: journal, cfg: cfg}
}

// Touch регистрирует участника или обновляет его имя. Вызывается на
// каждое входящее сообщение, чтобы @username оставался актуальным.
func (s *Service) Touch(ctx context.Context, p Profile) error {
	if p.UserID == 0 {
		return nil
	}
	return s.store.Upsert(ctx, p)
}

// Known — записан ли пользователь в members.
func (s *Service) Known(ctx context.Context, userID int64) (bool, error) {
	_, err := s.store.GetByUserID(ctx, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, common.ErrNotFound):
		return false, nil
	}
	return false, err
}

// Actor собирает возможности пользователя: роль из members,
// админство из members.is_admin или ADMIN_IDS.
func (s *Service) Actor(ctx context.Context, userID int64) policy.Actor {
	a := policy.Actor{UserID: userID}
	m, err := s.store.GetByUserID(ctx, userID)
	switch {
	case err == nil:
		a.Roles = m.Roles()
	case !errors.Is(err, common.ErrNotFound):
		log.WithError(err).WithField("user_id", userID).Warn("Не удалось прочитать роль участника")
	}
	if s.cfg.IsAdmin(userID) {
		a.Roles |= policy.RoleAdmin
	}
	return a
}

// DisplayName — имя для текстов бота. Незнакомый пользователь — user#id.
func (s *Service) DisplayName(ctx context.Context, userID int64) string {
	m, err := s.store.GetByUserID(ctx, userID)
	if err != nil {
		return common.Mention(userID, "")
	}
	return m.DisplayName()
}

// Resolve находит user id по @username.
func (s *Service) Resolve(ctx context.Context, username string) (int64, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return 0, common.Validation("empty username")
	}
	m, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		return 0, err
	}
	return m.UserID, nil
}

// SetRole назначает роль (critic, trusted_critic) или снимает её (none).
func (s *Service) SetRole(ctx context.Context, target int64, roleName string, cause int64) (from, to string, err error) {
	roleName = strings.ToLower(strings.TrimSpace(roleName))
	roles, ok := policy.ParseRole(roleName)
	if !ok {
		return "", "", s.journal.Fail(ctx, audit.Ref{CauseID: cause}, common.ErrRoleUnknown)
	}
	var role *string
	if roles != 0 {
		name := policy.RoleNameCritic
		if roles.Has(policy.RoleTrustedCritic) {
			name = policy.RoleNameTrustedCritic
		}
		role = &name
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		m, err := s.store.GetByUserID(ctx, target)
		if err != nil {
			return err
		}
		from = m.RoleName()
		if err := s.store.UpdateRole(ctx, target, role); err != nil {
			return err
		}
		m.Role = role
		to = m.RoleName()

		_, err = s.journal.Result(ctx, audit.Ref{UserID: target, CauseID: cause},
			"User %d role changed from %s to %s.", target, from, to)
		return err
	})
	if err != nil {
		return "", "", s.journal.Fail(ctx, audit.Ref{CauseID: cause}, err)
	}

	log.WithFields(log.Fields{
		"user_id": target,
		"from":    from,
		"to":      to,
	}).Info("Роль участника изменена")
	return from, to, nil
}

// Staff — участники с ролями.
func (s *Service) Staff(ctx context.Context) ([]*Member, error) {
	return s.store.ListWithRole(ctx)
}
