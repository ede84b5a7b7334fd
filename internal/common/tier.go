package common

import "strings"

// Tier — список, в котором опубликована заявка.
type Tier int

const (
	TierOpen          Tier = 1 // отвечать может кто угодно, без цены и награды
	TierCritic        Tier = 2 // только критики
	TierTrustedCritic Tier = 3 // только доверенные критики
)

// Tiers — все списки в порядке возрастания строгости.
var Tiers = []Tier{TierOpen, TierCritic, TierTrustedCritic}

func (t Tier) String() string {
	switch t {
	case TierOpen:
		return "OPEN"
	case TierCritic:
		return "CRITIC"
	case TierTrustedCritic:
		return "TRUSTED_CRITIC"
	}
	return "UNKNOWN"
}

// Paid — списки с ценой создания и наградой за выполнение.
func (t Tier) Paid() bool {
	return t == TierCritic || t == TierTrustedCritic
}

// Valid сообщает, известен ли список.
func (t Tier) Valid() bool {
	return t >= TierOpen && t <= TierTrustedCritic
}

// Title — название списка для текстов бота.
func (t Tier) Title() string {
	switch t {
	case TierOpen:
		return "open list"
	case TierCritic:
		return "critics list"
	case TierTrustedCritic:
		return "trusted critics list"
	}
	return strings.ToLower(t.String())
}
