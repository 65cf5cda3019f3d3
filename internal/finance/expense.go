package finance

import "github.com/MrJamesThe3rd/finnysync/internal/money"

type Frequency string

const (
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// FixedExpense is a recurring bill.
type FixedExpense struct {
	ID          string       `json:"id"`
	Name        string       `json:"name" validate:"required,max=120"`
	Amount      money.Amount `json:"amount" validate:"gte=0"`
	Category    string       `json:"category"`
	Frequency   Frequency    `json:"frequency" validate:"oneof=weekly monthly yearly"`
	NextDueDate string       `json:"nextDueDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Active      bool         `json:"active"`
	Version     int          `json:"version"`
	CreatedAt   int64        `json:"createdAt"`
	UpdatedAt   int64        `json:"updatedAt"`
}

func (e FixedExpense) EntityID() string { return e.ID }
func (e FixedExpense) EntityTable() Table { return TableFixedExpenses }
func (e FixedExpense) EntityStamp() Stamp { return Stamp{Version: e.Version, UpdatedAt: e.UpdatedAt} }
func (e FixedExpense) Created() int64 { return e.CreatedAt }

// ApplyDefaults does not touch Active: a missing flag is decided by the
// caller since false is a legitimate value.
func (e *FixedExpense) ApplyDefaults() {
	if e.Frequency == "" {
		e.Frequency = FrequencyMonthly
	}

	if e.Category == "" {
		e.Category = "other"
	}

	if e.Version <= 0 {
		e.Version = 1
	}
}
