// Package policy решает, может ли участник выполнить действие.
//
// Все функции чистые: на вход роли, автор заявки и список, на выход
// bool или *common.Error с причиной. Ни БД, ни Telegram здесь нет.
package policy

import (
	"strings"

	"serotonyl.ru/critics-guild/internal/common"
)

// Roles — набор возможностей участника (битовая маска).
type Roles uint8

const (
	RoleCritic Roles = 1 << iota
	RoleTrustedCritic
	RoleAdmin
)

// Имена ролей в таблице members.role.
const (
	RoleNameCritic        = "critic"
	RoleNameTrustedCritic = "trusted_critic"
)

// ParseRole превращает значение members.role в Roles.
func ParseRole(name string) (Roles, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case RoleNameCritic:
		return RoleCritic, true
	case RoleNameTrustedCritic, "trusted":
		return RoleTrustedCritic, true
	case "", "none":
		return 0, true
	}
	return 0, false
}

func (r Roles) Has(role Roles) bool { return r&role != 0 }

func (r Roles) String() string {
	var parts []string
	if r.Has(RoleCritic) {
		parts = append(parts, RoleNameCritic)
	}
	if r.Has(RoleTrustedCritic) {
		parts = append(parts, RoleNameTrustedCritic)
	}
	if r.Has(RoleAdmin) {
		parts = append(parts, "admin")
	}
	if len(parts) == 0 {
		return "member"
	}
	return strings.Join(parts, "+")
}

// Actor — кто выполняет команду.
type Actor struct {
	UserID int64
	Roles  Roles
}

// IsCritic: критик или доверенный критик.
func IsCritic(r Roles) bool {
	return r.Has(RoleCritic) || r.Has(RoleTrustedCritic)
}

func IsTrustedCritic(r Roles) bool {
	return r.Has(RoleTrustedCritic)
}

func IsAdmin(r Roles) bool {
	return r.Has(RoleAdmin)
}

// OwnsRequest: автор заявки или доверенный критик.
func OwnsRequest(a Actor, authorID int64) bool {
	return a.UserID == authorID || IsTrustedCritic(a.Roles)
}

// MayReserve: открытый список не резервируется никогда,
// список критиков — любой критик, доверенный — только доверенный.
func MayReserve(tier common.Tier, r Roles) bool {
	switch tier {
	case common.TierCritic:
		return IsCritic(r)
	case common.TierTrustedCritic:
		return IsTrustedCritic(r)
	}
	return false
}

// MayRespondInThread — можно ли постороннему писать под заявкой.
// Автор пишет всегда. Открытый список открыт всем.
func MayRespondInThread(tier common.Tier, a Actor, ownerID int64) bool {
	if a.UserID == ownerID {
		return true
	}
	switch tier {
	case common.TierCritic:
		return IsCritic(a.Roles)
	case common.TierTrustedCritic:
		return IsTrustedCritic(a.Roles)
	}
	return true
}

// --- Варианты с причиной отказа ---

func RequireCritic(a Actor) error {
	if IsCritic(a.Roles) {
		return nil
	}
	return common.Authorization("only critics may do this")
}

func RequireTrustedCritic(a Actor) error {
	if IsTrustedCritic(a.Roles) {
		return nil
	}
	return common.Authorization("only trusted critics may do this")
}

func RequireAdmin(a Actor) error {
	if IsAdmin(a.Roles) {
		return nil
	}
	return common.Authorization("only admins may do this")
}

func RequireOwnership(a Actor, authorID int64) error {
	if OwnsRequest(a, authorID) {
		return nil
	}
	return common.Authorization("only the author of the request or a trusted critic may do this")
}

func RequireReserve(tier common.Tier, a Actor) error {
	if MayReserve(tier, a.Roles) {
		return nil
	}
	switch tier {
	case common.TierOpen:
		return common.Authorization("requests in the open list cannot be reserved")
	case common.TierTrustedCritic:
		return common.Authorization("only trusted critics may reserve requests in the trusted critics list")
	}
	return common.Authorization("only critics may reserve requests in the critics list")
}

func RequireRespond(tier common.Tier, a Actor, ownerID int64) error {
	if MayRespondInThread(tier, a, ownerID) {
		return nil
	}
	if tier == common.TierTrustedCritic {
		return common.Authorization("only trusted critics may respond to requests in the trusted critics list")
	}
	return common.Authorization("only critics may respond to requests in the critics list")
}
