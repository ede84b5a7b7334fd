// Package requests — жизненный цикл заявки на ревью:
// OPEN → CLAIMED → COMPLETED, OPEN → CANCELLED, CLAIMED → OPEN (release).
// COMPLETED и CANCELLED — терминальные.
package requests

import (
	"fmt"
	"strings"

	"serotonyl.ru/critics-guild/internal/common"
	"serotonyl.ru/critics-guild/internal/config"
)

// State — состояние заявки.
type State int

const (
	StateOpen      State = 1
	StateClaimed   State = 2
	StateCompleted State = 3
	StateCancelled State = 4
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClaimed:
		return "CLAIMED"
	case StateCompleted:
		return "COMPLETED"
	case StateCancelled:
		return "CANCELLED"
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// Active — заявка ещё в работе (учитывается в лимите автора).
func (s State) Active() bool {
	return s == StateOpen || s == StateClaimed
}

// Type — категория ревью. Номера совпадают с порядком config.TypeNames.
type Type int

const (
	TypePreviewer Type = iota + 1
	TypeBasicTestplay
	TypeDetailedMod
	TypeCuratability
	TypeVerification
	TypeSS
	TypeBL
	TypeBPM
	TypeTiming
	TypeProfile
	TypeFeedbackOnFeedback
)

// Valid сообщает, входит ли тип в таксономию.
func (t Type) Valid() bool {
	return t >= TypePreviewer && int(t) <= len(config.TypeNames)
}

// Tag — хэштег типа без '#': "basic_testplay".
func (t Type) Tag() string {
	if !t.Valid() {
		return ""
	}
	return config.TypeNames[t-1]
}

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("TYPE(%d)", int(t))
	}
	return strings.ToUpper(t.Tag())
}

// ParseType находит тип по хэштегу (без '#', без учёта регистра).
func ParseType(tag string) (Type, bool) {
	tag = strings.ToLower(strings.TrimPrefix(tag, "#"))
	for i, name := range config.TypeNames {
		if name == tag {
			return Type(i + 1), true
		}
	}
	return 0, false
}

// Request — строка таблицы requests. ThreadID выдаёт внешний источник
// (id поста в чате заявок), ядро его не генерирует.
type Request struct {
	ThreadID int64       `db:"thread_id"`
	AuthorID int64       `db:"author_id"`
	Tier     common.Tier `db:"list"`
	CriticID int64       `db:"critic_id"` // 0 — NULL
	Type     Type        `db:"type"`
	State    State       `db:"state"`
}

// Price — цена создания и награда за выполнение.
type Price struct {
	Cost   int64
	Reward int64
}

// Pricing — какие типы разрешены в каком списке и почём.
type Pricing struct {
	open map[Type]bool
	paid map[common.Tier]map[Type]Price
}

// NewPricing собирает таблицу цен из конфигурации.
func NewPricing(cfg *config.Config) (*Pricing, error) {
	p := &Pricing{
		open: map[Type]bool{},
		paid: map[common.Tier]map[Type]Price{},
	}
	for _, name := range cfg.OpenTypes {
		t, ok := ParseType(name)
		if !ok {
			return nil, fmt.Errorf("неизвестный тип заявки %q", name)
		}
		p.open[t] = true
	}

	lists := []struct {
		tier    common.Tier
		costs   map[string]int64
		rewards map[string]int64
	}{
		{common.TierCritic, cfg.CriticCosts, cfg.CriticRewards},
		{common.TierTrustedCritic, cfg.TrustedCosts, cfg.TrustedRewards},
	}
	for _, l := range lists {
		prices := map[Type]Price{}
		for name, cost := range l.costs {
			t, ok := ParseType(name)
			if !ok {
				return nil, fmt.Errorf("неизвестный тип заявки %q", name)
			}
			reward, ok := l.rewards[name]
			if !ok {
				return nil, fmt.Errorf("для типа %q в списке %s нет награды", name, l.tier)
			}
			prices[t] = Price{Cost: cost, Reward: reward}
		}
		p.paid[l.tier] = prices
	}
	return p, nil
}

// Allowed — можно ли создать заявку такого типа в этом списке.
func (p *Pricing) Allowed(tier common.Tier, t Type) bool {
	if tier == common.TierOpen {
		return p.open[t]
	}
	_, ok := p.paid[tier][t]
	return ok
}

// Price возвращает цену для платного списка. Для открытого — нули.
func (p *Pricing) Price(tier common.Tier, t Type) Price {
	if !tier.Paid() {
		return Price{}
	}
	return p.paid[tier][t]
}

// CreateInput — параметры создания заявки.
type CreateInput struct {
	ThreadID int64
	AuthorID int64
	Tier     common.Tier
	Type     Type
	Cause    int64
}

// Limits — ограничения на приём новых заявок (из конфигурации).
type Limits struct {
	MaxActive    int
	MaxPenalties int64
}

// Outcome — результат перехода, который платформа превращает в текст.
type Outcome struct {
	Request *Request
	Price   Price
	// Tokens — баланс затронутого пользователя после перехода
	// (автора при создании и отмене).
	Tokens int64
	// Active — число активных заявок автора после создания.
	Active int
	// Critic — критик, снятый с заявки при release.
	Critic int64
}

// CompleteInput — параметры завершения заявки.
type CompleteInput struct {
	ThreadID int64
	// CriticOverride — критик, указанный явно (0 — не указан).
	CriticOverride       int64
	ReturnTokensToAuthor bool
	AwardStar            bool
	Notes                string
	Cause                int64
}

// Notice — уведомление одному участнику завершённой заявки.
type Notice struct {
	UserID int64
	// Counterpart — второй участник: за него можно проголосовать из DM.
	Counterpart int64
	// Tokens — сколько токенов получил адресат.
	Tokens int64
	Star   bool
}

// Completion — итог complete: заявка и пара уведомлений.
type Completion struct {
	Request *Request
	Reward  int64
	Author  Notice
	Critic  Notice
	Notes   string
}
