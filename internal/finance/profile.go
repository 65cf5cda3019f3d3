package finance

import "github.com/MrJamesThe3rd/finnysync/internal/money"

const DefaultCurrency = "CLP"

// XPLogLimit bounds Gamification.XPLog; older entries are discarded first.
const XPLogLimit = 100

type IncomeSource struct {
	Name   string       `json:"name" validate:"max=120"`
	Amount money.Amount `json:"amount" validate:"gte=0"`
}

// Profile is the per-user singleton.
type Profile struct {
	Name          string         `json:"name" validate:"max=120"`
	Currency      string         `json:"currency" validate:"omitempty,len=3"`
	IncomeSources []IncomeSource `json:"incomeSources" validate:"dive"`
	// UpdatedAt orders the whole profile row (profile, gamification and
	// envelopes share it remotely).
	UpdatedAt int64 `json:"updatedAt"`
}

func (p *Profile) ApplyDefaults() {
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}

	if p.IncomeSources == nil {
		p.IncomeSources = []IncomeSource{}
	}
}

type XPEntry struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
	At     int64  `json:"at"`
}

type Gamification struct {
	TotalXP        int       `json:"totalXP"`
	XPLog          []XPEntry `json:"xpLog"`
	EarnedBadgeIDs []string  `json:"earnedBadgeIds"`
}

type EnvelopeRule struct {
	ID       string       `json:"id"`
	Name     string       `json:"name" validate:"max=120"`
	Category string       `json:"category"`
	Limit    money.Amount `json:"limit" validate:"gte=0"`
}

type Envelopes struct {
	Enabled bool           `json:"enabled"`
	Rules   []EnvelopeRule `json:"rules" validate:"dive"`
}
