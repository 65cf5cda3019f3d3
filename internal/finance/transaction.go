package finance

import "github.com/MrJamesThe3rd/finnysync/internal/money"

// TxType is the direction of a transaction.
type TxType string

const (
	TxIncome  TxType = "income"
	TxExpense TxType = "expense"
	TxSavings TxType = "savings"
)

// Transaction is a single money movement.
type Transaction struct {
	ID           string       `json:"id"`
	Type         TxType       `json:"type" validate:"oneof=income expense savings"`
	Amount       money.Amount `json:"amount" validate:"gte=0"`
	Category     string       `json:"category" validate:"max=80"`
	Note         string       `json:"note" validate:"max=2000"`
	Date         string       `json:"date" validate:"omitempty,datetime=2006-01-02"`
	GoalID       string       `json:"goalId,omitempty"`
	DecisionType string       `json:"decisionType,omitempty"`
	Version      int          `json:"version"`
	CreatedAt    int64        `json:"createdAt"`
	UpdatedAt    int64        `json:"updatedAt"`
}

func (t Transaction) EntityID() string { return t.ID }
func (t Transaction) EntityTable() Table { return TableTransactions }
func (t Transaction) EntityStamp() Stamp { return Stamp{Version: t.Version, UpdatedAt: t.UpdatedAt} }
func (t Transaction) Created() int64 { return t.CreatedAt }

// ApplyDefaults fills missing fields; today is an ISO calendar day.
func (t *Transaction) ApplyDefaults(today string) {
	if t.Type == "" {
		t.Type = TxExpense
	}

	if t.Date == "" {
		t.Date = today
	}

	if t.Version <= 0 {
		t.Version = 1
	}
}
