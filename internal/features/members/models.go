// Package members — участники гильдии: имена для текстов бота, разбор
// @username и роли (critic / trusted_critic), из которых собирается
// policy.Actor.
package members

import (
	"time"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/features/policy"
)

// Member — строка таблицы members.
type Member struct {
	UserID    int64     `db:"user_id"`
	Username  string    `db:"username"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	Role      *string   `db:"role"` // critic | trusted_critic | NULL
	IsAdmin   bool      `db:"is_admin"`
	JoinedAt  time.Time `db:"joined_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Profile — то, что Telegram сообщает о пользователе в каждом апдейте.
type Profile struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
}

// DisplayName: @username, иначе имя и фамилия, иначе user#id.
func (m *Member) DisplayName() string {
	if m.Username != "" {
		return common.Mention(m.UserID, m.Username)
	}
	name := m.FirstName
	if m.LastName != "" {
		name += " " + m.LastName
	}
	if name == "" {
		return common.Mention(m.UserID, "")
	}
	return name
}

// RoleName — роль для вывода ("none", если не назначена).
func (m *Member) RoleName() string {
	if m.Role == nil || *m.Role == "" {
		return "none"
	}
	return *m.Role
}

// Roles переводит роль и флаг админа в набор возможностей.
func (m *Member) Roles() policy.Roles {
	var r policy.Roles
	if m.Role != nil {
		if parsed, ok := policy.ParseRole(*m.Role); ok {
			r |= parsed
		}
	}
	if m.IsAdmin {
		r |= policy.RoleAdmin
	}
	return r
}
